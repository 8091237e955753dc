package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stableid/internal/model"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Features string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <data-source> <record-id>",
		Short: "Ingest or replace one record",
		Long: `Ingest or replace one record and print how each affected entity changed.

Example:
  stableid add TEST 1001 --features '{"PHONE_NUMBER":"702-919-1300"}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Features, "features", "{}", "feature document as JSON")

	return cmd
}

func runAdd(opts *AddOptions, dataSource, key string, cmd *cobra.Command) error {
	features, err := parseFeatures(opts.Features)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}
	out := newFormatter(opts.RootOptions, cmd)

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, app *App) error {
		rec := model.Record{ID: model.NewRecordID(dataSource, key), Features: features}
		res, err := app.Engine.AddRecord(ctx, rec)
		if err != nil {
			return out.Fail(fmt.Sprintf("failed to add record %s", rec.ID), err)
		}
		return out.Success(eventView{res})
	})
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <data-source> <record-id>",
		Short: "Delete one record",
		Long: `Delete one record and print how each affected entity changed.

Deleting a record the resolver does not hold is not an error; it affects
no entities.

Example:
  stableid delete TEST 1003`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runDelete(opts *RootOptions, dataSource, key string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	return withApp(opts, cmd, func(ctx context.Context, app *App) error {
		id := model.NewRecordID(dataSource, key)
		res, err := app.Engine.DeleteRecord(ctx, id)
		if err != nil {
			return out.Fail(fmt.Sprintf("failed to delete record %s", id), err)
		}
		return out.Success(eventView{res})
	})
}
