package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/jobsync/internal/config"
	"github.com/MimeLyc/jobsync/internal/httpapi"
	"github.com/MimeLyc/jobsync/internal/persistence"
	"github.com/MimeLyc/jobsync/internal/service"
	"github.com/MimeLyc/jobsync/pkg/log"
)

const (
	shutdownTimeout = 5 * time.Second
	pruneSchedule   = "@hourly"
)

type resyncScheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func ServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic resync and the local HTTP surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	settingsPath := config.RuntimeSettingsFilePath()
	cfg, err := withSettingsFile(a.cfg, settingsPath)
	if err != nil {
		return err
	}
	log.SetLevel(log.ParseLevel(cfg.Log.Level))

	store, client, err := a.store()
	if err != nil {
		return err
	}

	c := cron.New()
	serverOpts := []httpapi.Option{httpapi.WithNodes(client)}

	if path := strings.TrimSpace(cfg.Journal.DBPath); path != "" {
		journal, err := persistence.NewSQLiteJournal(path)
		if err != nil {
			return err
		}
		defer journal.Close()
		defer store.Subscribe(journal)()
		serverOpts = append(serverOpts, httpapi.WithJournal(journal))

		if err := schedulePrune(ctx, c, journal, cfg.Journal.RetentionHours); err != nil {
			return err
		}
	}

	resyncer := service.NewResyncer(store, c, cfg.Scheduler.ResyncCron)
	serverOpts = append(serverOpts, httpapi.WithResyncStatus(resyncer))

	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Warn("Runtime settings are read-only: %v", err)
	} else {
		serverOpts = append(serverOpts,
			httpapi.WithRuntimeSettingsStore(settings),
			httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
				if err := resyncer.Reschedule(ctx, next.ResyncCron); err != nil {
					return err
				}
				log.SetLevel(log.ParseLevel(next.LogLevel))
				return nil
			}),
		)
	}

	if err := store.FetchAll(ctx); err != nil {
		log.Warn("Initial sync failed, serving an empty view until the next resync: %v", err)
	}

	log.Info("Serving %s against %s (resync %q)", cfg.HTTP.Addr, cfg.Scheduler.APIURL, cfg.Scheduler.ResyncCron)
	return runWithComponents(ctx, cfg.HTTP.Addr, resyncer, c, httpapi.NewServer(store, serverOpts...))
}

// withSettingsFile applies a persisted runtime settings file on top of cfg.
func withSettingsFile(cfg *config.Config, path string) (*config.Config, error) {
	settings, err := config.LoadRuntimeSettingsFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		log.Warn("Ignoring runtime settings file %s: %v", path, err)
		return cfg, nil
	}
	if err := settings.Validate(); err != nil {
		log.Warn("Ignoring runtime settings file %s: %v", path, err)
		return cfg, nil
	}

	next := *cfg
	config.WithRuntimeSettings(settings)(&next)
	return &next, nil
}

type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

func schedulePrune(ctx context.Context, c *cron.Cron, journal pruner, retentionHours int) error {
	if retentionHours <= 0 {
		return nil
	}
	retention := time.Duration(retentionHours) * time.Hour
	prune := func() {
		n, err := journal.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Error("Journal prune failed: %v", err)
			return
		}
		if n > 0 {
			log.Info("Pruned %d journal events older than %s", n, retention)
		}
	}
	prune()
	if _, err := c.AddFunc(pruneSchedule, prune); err != nil {
		return fmt.Errorf("schedule journal prune: %w", err)
	}
	return nil
}

func runWithComponents(ctx context.Context, addr string, scheduler resyncScheduler, engine cronEngine, srv httpServer) error {
	if err := scheduler.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule resync: %w", err)
	}
	engine.Start()
	defer waitStopped(engine)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitStopped stops the cron and waits for running resyncs and prunes so they
// finish before the journal is closed.
func waitStopped(engine cronEngine) {
	select {
	case <-engine.Stop().Done():
	case <-time.After(shutdownTimeout):
		log.Warn("Timed out waiting for scheduled jobs to finish")
	}
}
