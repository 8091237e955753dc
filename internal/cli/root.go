package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/stableid/internal/config"
	"github.com/roach88/stableid/internal/stableid"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigPath is an optional YAML config file.
	ConfigPath string

	// Flag overrides for config values. Empty means "use config".
	Backend     string
	Database    string
	BadgerDir   string
	EngineState string

	// Generator overrides the stable id generator (for testing).
	// If nil, defaults to stableid.UUIDGenerator.
	Generator stableid.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stableid CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stableid",
		Short: "Durable entity identities over an entity resolver",
		Long: `stableid keeps identifiers stable while an entity resolver merges,
splits and renumbers its entities.

Every ingested or deleted record is classified against the last known
snapshot of each affected entity, and the records' stable ids are minted,
reused or merged accordingly.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Backend != "" && opts.Backend != config.BackendSQLite && opts.Backend != config.BackendBadger {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid backend %q: must be %s or %s", opts.Backend, config.BackendSQLite, config.BackendBadger))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|badger)")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite database")
	flags.StringVar(&opts.BadgerDir, "badger-dir", "", "directory of the Badger store")
	flags.StringVar(&opts.EngineState, "engine-state", "", "state file of the reference resolution engine")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
