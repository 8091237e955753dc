package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/stableid/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve stable id lookups, record ingestion, the change log and Prometheus
metrics over HTTP until interrupted.

Endpoints:
  GET    /v1/stable/:id
  GET    /v1/entities/:id
  POST   /v1/records
  DELETE /v1/records/:ds/:key
  GET    /v1/events
  GET    /healthz
  GET    /metrics

Example:
  stableid serve --addr :8080 --db ./stableid.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, app *App) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := app.Config.HTTPAddr
		if opts.Addr != "" {
			addr = opts.Addr
		}
		if !opts.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}

		handlers := api.NewHandlers(app.Engine, app.Resolver, app.Store, app.Logger)
		if err := api.Serve(ctx, addr, api.NewRouter(handlers, app.Metrics), app.Logger); err != nil {
			return WrapExitError(ExitFailure, "http server error", err)
		}
		app.Logger.Info("server stopped gracefully")
		return nil
	})
}
