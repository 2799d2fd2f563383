package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/jobsync/internal/config"
	"github.com/MimeLyc/jobsync/internal/gateway"
	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/pkg/log"
)

// app carries what every subcommand needs once flags and env are resolved.
type app struct {
	apiURL string
	cfg    *config.Config
}

// NewRootCmd builds the jobsync command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "jobsync",
		Short:         "Keep a local view of scheduler jobs in sync with the remote API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "scheduler API endpoint (overrides JOBSYNC_API_URL)")

	root.AddCommand(ServeCmd(a))
	root.AddCommand(JobsCmd(a))
	root.AddCommand(NodesCmd(a))
	root.AddCommand(EventsCmd(a))
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	var opts []config.Option
	if url := strings.TrimSpace(a.apiURL); url != "" {
		opts = append(opts, func(c *config.Config) {
			c.Scheduler.APIURL = url
		})
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.SetLevel(log.ParseLevel(cfg.Log.Level))
	a.cfg = cfg
	return nil
}

func (a *app) gateway() (*gateway.Client, error) {
	return gateway.NewClient(a.cfg.Scheduler.Gateway())
}

// store returns a Store over a fresh gateway, logging every phase event.
func (a *app) store() (*jobs.Store, *gateway.Client, error) {
	client, err := a.gateway()
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewStore(client, jobs.WithListener(eventLogger())), client, nil
}

// eventLogger writes one line per phase event.
func eventLogger() jobs.Listener {
	return jobs.ListenerFunc(func(e jobs.Event) {
		subject := string(e.Op)
		if e.JobID != "" {
			subject = fmt.Sprintf("%s %s", e.Op, e.JobID)
		}
		switch e.Phase {
		case jobs.PhaseStarted:
			log.Debug("%s started", subject)
		case jobs.PhaseSucceeded:
			log.Debug("%s succeeded in %s", subject, e.Duration)
		case jobs.PhaseFailed:
			log.Warn("%s failed after %s: %s", subject, e.Duration, e.Error)
		}
	})
}
