package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/stableid/internal/classifier"
	"github.com/roach88/stableid/internal/config"
	"github.com/roach88/stableid/internal/engine"
	"github.com/roach88/stableid/internal/kvstore"
	"github.com/roach88/stableid/internal/metrics"
	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
	"github.com/roach88/stableid/internal/resolution/memengine"
	"github.com/roach88/stableid/internal/schema"
	"github.com/roach88/stableid/internal/stableid"
	"github.com/roach88/stableid/internal/store"
)

// Backend is a storage backend holding snapshots, stable identities and the
// change log. Implemented by *store.Store and *kvstore.Store.
type Backend interface {
	classifier.SnapshotStore
	stableid.Store
	stableid.AliasLister
	engine.ChangeLog
	ReadEvents(ctx context.Context, fromSeq int64, limit int) ([]model.EventRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*kvstore.Store)(nil)
)

// App is the fully wired pipeline a command runs against.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    Backend
	Resolver *stableid.Resolver
	Engine   *engine.Engine
	Metrics  *metrics.Metrics

	closeLog func() error
}

// loadConfig resolves the effective configuration: defaults, then the config
// file, then STABLEID_* variables, then flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.BadgerDir != "" {
		cfg.BadgerDir = opts.BadgerDir
	}
	if opts.EngineState != "" {
		cfg.EngineState = opts.EngineState
	}
	if opts.Verbose {
		cfg.LogLevel = "DEBUG"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openApp builds the pipeline from configuration. The caller must Close it.
func openApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.Level())
	app := &App{Config: cfg, Logger: logger, closeLog: closeLog}

	app.Store, err = openBackend(cfg, logger)
	if err != nil {
		app.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	mem, err := memengine.New(memengine.Options{
		MatchKeys: cfg.MatchKeys,
		StatePath: cfg.EngineState,
	})
	if err != nil {
		app.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open resolution engine", err)
	}
	validator, err := schema.New()
	if err != nil {
		app.Close()
		return nil, WrapExitError(ExitCommandError, "failed to compile feature schema", err)
	}

	gen := opts.Generator
	if gen == nil {
		gen = stableid.UUIDGenerator{}
	}

	app.Metrics = metrics.New()
	res := resolution.NewTyped(mem)
	app.Resolver = stableid.New(app.Store,
		stableid.WithGenerator(gen),
		stableid.WithLogger(logger),
		stableid.WithMergeHook(func(model.StableID, []model.StableID) {
			app.Metrics.ObserveMerge()
		}),
	)
	app.Engine = engine.New(res,
		classifier.New(app.Store, res,
			classifier.WithFetchConcurrency(cfg.FetchConcurrency),
			classifier.WithLogger(logger),
		),
		app.Resolver,
		engine.WithChangeLog(app.Store),
		engine.WithValidator(validator),
		engine.WithLogger(logger),
		engine.WithMetrics(app.Metrics),
	)
	if err := app.Engine.Resume(ctx); err != nil {
		app.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	logger.Debug("pipeline ready",
		"backend", cfg.Backend,
		"seq", app.Engine.Seq(),
		"engine_state", cfg.EngineState,
	)
	return app, nil
}

func openBackend(cfg config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBadger:
		kv := kvstore.DefaultConfig(cfg.BadgerDir)
		kv.Logger = logger
		st, err := kvstore.Open(kv)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
	}
	return errors.Join(errs...)
}

// withApp opens the pipeline, runs fn and closes the pipeline.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			app.Logger.Error("error closing pipeline", "error", closeErr)
		}
	}()
	return fn(ctx, app)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
