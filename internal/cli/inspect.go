package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stableid/internal/model"
)

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <stable-id>",
		Short: "Resolve a stable id",
		Long: `Resolve a stable id to its canonical id.

Prints the alias chain from the given id to its canonical id, every alias
of the canonical id and the entity ids bound to it.

Example:
  stableid resolve E-0f6c3c8e-8d0e-4f55-9d0a-2f1f4b0f8a41`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(rootOpts, model.StableID(args[0]), cmd)
		},
	}
}

func runResolve(opts *RootOptions, id model.StableID, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	return withApp(opts, cmd, func(ctx context.Context, app *App) error {
		view, err := describeStable(ctx, app, id)
		if err != nil {
			return out.Fail(fmt.Sprintf("failed to resolve %s", id), err)
		}
		return out.Success(view)
	})
}

func describeStable(ctx context.Context, app *App, id model.StableID) (ResolveView, error) {
	canonical, entityIDs, err := app.Resolver.Resolve(ctx, id)
	if err != nil {
		return ResolveView{}, err
	}
	chain, err := app.Resolver.Chain(ctx, id)
	if err != nil {
		return ResolveView{}, err
	}
	aliases, err := app.Resolver.Aliases(ctx, canonical)
	if err != nil {
		return ResolveView{}, err
	}
	return ResolveView{
		StableID:  id,
		Canonical: canonical,
		Chain:     chain,
		Aliases:   aliases,
		EntityIDs: entityIDs,
	}, nil
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <entity-id>",
		Short: "Show the last known snapshot of an entity id",
		Long: `Show the existence flag and records last recorded for an entity id.

Example:
  stableid snapshot 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(rootOpts, args[0], cmd)
		},
	}
}

func runSnapshot(opts *RootOptions, arg string, cmd *cobra.Command) error {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid entity id %q: must be a positive integer", arg))
	}
	out := newFormatter(opts, cmd)

	return withApp(opts, cmd, func(ctx context.Context, app *App) error {
		snap, err := app.Store.GetSnapshot(ctx, model.EntityID(n))
		if err != nil {
			return out.Fail("failed to read snapshot", model.NewTransientFault("read snapshot", err))
		}
		if !snap.Known {
			_ = out.Error("ENTITY_NOT_FOUND", fmt.Sprintf("entity %d has never been observed", n), nil)
			return NewExitError(ExitFailure, fmt.Sprintf("entity %d not found", n))
		}
		return out.Success(snapshotView{snap})
	})
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	From  int64
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the change log",
		Long: `Print processed events, oldest first, with the classification of every
affected entity and the stable id it was assigned.

Examples:
  stableid history
  stableid history --from 40 --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "print events after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	if opts.From < 0 || opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--from and --limit must not be negative")
	}
	out := newFormatter(opts.RootOptions, cmd)

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, app *App) error {
		events, err := app.Store.ReadEvents(ctx, opts.From, opts.Limit)
		if err != nil {
			return out.Fail("failed to read change log", model.NewTransientFault("read events", err))
		}
		return out.Success(HistoryView{Events: events})
	})
}
