package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stableid/internal/engine"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	FailFast bool
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <records-file>",
		Short: "Ingest a file of records",
		Long: `Ingest every record of a JSON-lines or YAML file, in file order.

Each record is a feature document naming itself with DATA_SOURCE and
RECORD_ID. Records that fail validation are reported and skipped unless
--fail-fast is set; any other failure stops the load.

Example:
  stableid load testdata/sample_records.jsonl
  stableid load --db ./stableid.db records.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first rejected record")

	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	records, err := LoadRecords(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}
	out.VerboseLog("loaded %d records from %s", len(records), path)

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, app *App) error {
		summary := LoadSummary{
			Rejected: []RejectedRecord{},
			Events:   []*engine.EventResult{},
		}
		for _, rec := range records {
			res, err := app.Engine.AddRecord(ctx, rec)
			var reject *engine.RejectError
			switch {
			case errors.As(err, &reject):
				summary.Rejected = append(summary.Rejected, RejectedRecord{
					Record:  rec.ID,
					Code:    string(reject.Code),
					Message: reject.Error(),
				})
				if opts.FailFast {
					_ = out.Success(summary)
					return WrapExitError(ExitFailure, fmt.Sprintf("record %s rejected", rec.ID), err)
				}
				continue
			case err != nil:
				_ = out.Success(summary)
				return out.Fail(fmt.Sprintf("failed to process record %s", rec.ID), err)
			}
			summary.Processed++
			summary.Events = append(summary.Events, res)
		}

		if err := out.Success(summary); err != nil {
			return err
		}
		if len(summary.Rejected) > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d records rejected", len(summary.Rejected)))
		}
		return nil
	})
}
