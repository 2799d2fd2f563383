package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/internal/jobspec"
	"github.com/MimeLyc/jobsync/pkg/file"
)

const maxParallelShow = 4

func JobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, inspect and mutate scheduler jobs",
	}
	cmd.AddCommand(jobsListCmd(a))
	cmd.AddCommand(jobsShowCmd(a))
	cmd.AddCommand(jobsSubmitCmd(a))
	cmd.AddCommand(jobsUpdateCmd(a))
	cmd.AddCommand(jobsAckCmd(a, "stop", "Stop a job", (*jobs.Store).Stop))
	cmd.AddCommand(jobsAckCmd(a, "delete", "Delete a job (succeeds if it is already gone)", (*jobs.Store).Delete))
	cmd.AddCommand(jobsAckCmd(a, "restart", "Restart a job", (*jobs.Store).Restart))
	return cmd
}

func jobsListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs known to the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := a.store()
			if err != nil {
				return err
			}
			if err := store.FetchAll(cmd.Context()); err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), store.Snapshot())
			}
			return renderJobs(cmd.OutOrStdout(), store.Jobs())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func jobsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>...",
		Short: "Fetch job details straight from the scheduler",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := a.store()
			if err != nil {
				return err
			}

			details := make([]*jobs.Job, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(maxParallelShow)
			for i, id := range args {
				i, id := i, id
				g.Go(func() error {
					job, err := store.Job(ctx, id)
					if err != nil {
						return err
					}
					details[i] = job
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if len(details) == 1 {
				return writeIndented(cmd.OutOrStdout(), details[0])
			}
			return writeIndented(cmd.OutOrStdout(), details)
		},
	}
}

func jobsSubmitCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "submit -f <spec>",
		Short: "Submit new jobs from a YAML or JSON spec file or directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := loadSpecs(path)
			if err != nil {
				return err
			}
			store, _, err := a.store()
			if err != nil {
				return err
			}
			for _, named := range specs {
				ret, err := store.Submit(cmd.Context(), named.Spec)
				if err != nil {
					return fmt.Errorf("submit %s: %w", named.Path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (evaluation %s)\n", ret.JobID, ret.EvaluationID)
				warnResync(cmd, store)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "job spec file or directory, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func jobsUpdateCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "update <job-id> -f <spec>",
		Short: "Replace a job's spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := jobspec.Load(path)
			if err != nil {
				return err
			}
			store, _, err := a.store()
			if err != nil {
				return err
			}
			ret, err := store.Update(cmd.Context(), args[0], spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated job %s (evaluation %s)\n", ret.JobID, ret.EvaluationID)
			warnResync(cmd, store)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "job spec file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type ackFunc func(s *jobs.Store, ctx context.Context, jobID string) (*jobs.Ack, error)

func jobsAckCmd(a *app, use, short string, call ackFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := a.store()
			if err != nil {
				return err
			}
			ack, err := call(store, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msg := ack.Message
			if msg == "" {
				msg = "ok"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", use, args[0], msg)
			warnResync(cmd, store)
			return nil
		},
	}
}

func loadSpecs(path string) ([]jobspec.Named, error) {
	if path != "-" && file.IsDir(path) {
		return jobspec.LoadDir(path)
	}
	spec, err := jobspec.Load(path)
	if err != nil {
		return nil, err
	}
	return []jobspec.Named{{Path: path, Spec: spec}}, nil
}

// warnResync reports a resync failure that followed a successful mutation.
func warnResync(cmd *cobra.Command, store *jobs.Store) {
	if msg := store.LastError(); msg != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: mutation applied but resync failed: %s\n", msg)
	}
}

func renderJobs(w io.Writer, list []jobs.Job) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No jobs found.")
		return err
	}

	title := cases.Title(language.English)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATUS\tGROUPS\tALLOCATIONS\tREGION")
	for _, job := range list {
		region := job.Constraints.Region
		if region == "" {
			region = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			job.JobID, title.String(string(job.Status)), len(job.TaskGroups), allocSummary(job.Allocations), region)
	}
	return tw.Flush()
}

// allocSummary renders "running/total".
func allocSummary(allocs []jobs.Allocation) string {
	running := 0
	for _, alloc := range allocs {
		if alloc.Status == jobs.AllocRunning {
			running++
		}
	}
	return fmt.Sprintf("%d/%d", running, len(allocs))
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
