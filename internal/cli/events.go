package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/internal/persistence"
)

func EventsCmd(a *app) *cobra.Command {
	var (
		jobID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded store operations from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(a.cfg.Journal.DBPath) == "" {
				return fmt.Errorf("journal is disabled (JOURNAL_DB_PATH is empty)")
			}
			journal, err := persistence.NewSQLiteJournal(a.cfg.Journal.DBPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			var events []jobs.Event
			if jobID != "" {
				events, err = journal.ForJob(cmd.Context(), jobID, limit)
			} else {
				events, err = journal.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tOP\tJOB\tPHASE\tDURATION\tERROR")
			for _, e := range events {
				job := e.JobID
				if job == "" {
					job = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Time.Local().Format(time.DateTime), e.Op, job, e.Phase, e.Duration.Round(time.Millisecond), e.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only show events for this job id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}
