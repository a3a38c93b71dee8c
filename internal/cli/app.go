package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/config"
	"github.com/roach88/hydroplante/internal/replay"
	"github.com/roach88/hydroplante/internal/statesync"
	"github.com/roach88/hydroplante/internal/store"
	"github.com/roach88/hydroplante/internal/worker"
)

// app is the wired worker stack shared by the commands.
type app struct {
	cfg    *config.Config
	store  *store.Store
	worker *worker.Worker
	replay *replay.Controller
	sync   *statesync.Client // nil when no sync endpoint is configured
	logger *slog.Logger
}

// openApp loads the configuration and wires store, worker, pending-sync
// controller and sync client. Failures are reported through f.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*app, error) {
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			return nil, f.Fail(ExitFailure, ErrCodeConfig, "invalid configuration", err)
		}
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeConfig, "invalid origin", err)
	}

	f.VerboseLog("opening cache database %s", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}

	ctrl := replay.New(st, replay.WithLogger(logger))
	w := worker.New(st, opts.Transport,
		worker.Config{Origin: origin, APIHost: cfg.APIHost},
		worker.WithLogger(logger),
		worker.WithListener(ctrl),
		worker.WithSkipWaiting(cfg.SkipWaiting),
		worker.WithPopulateConcurrency(cfg.PopulateConcurrency),
	)

	a := &app{cfg: cfg, store: st, worker: w, replay: ctrl, logger: logger}
	if cfg.SyncEnabled() {
		a.sync = statesync.NewClient(&http.Client{Transport: w}, cfg.Sync.Endpoint,
			statesync.WithToken(cfg.SyncToken),
			statesync.WithReporter(ctrl),
			statesync.WithStateSource(statesync.FileSource{Path: cfg.Sync.StateFile}),
			statesync.WithMessage(cfg.Sync.Message),
			statesync.WithLogger(logger),
		)
		ctrl.SetRetrier(a.sync)
	}

	if _, err := ctrl.Load(ctx); err != nil {
		logger.Warn("reading pending sync flag failed, assuming clean", "error", err)
	}
	return a, nil
}

// resume adopts the configured generation when the store already holds it
// from an earlier session. It reports whether it did.
func (a *app) resume(ctx context.Context) (bool, error) {
	has, err := a.store.HasGeneration(ctx, a.cfg.Generation)
	if err != nil || !has {
		return false, err
	}
	return true, a.worker.Resume(ctx, a.cfg.Generation)
}

// Close waits for background work and closes the database.
func (a *app) Close() {
	a.replay.Wait()
	a.worker.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
