// Package commands defines all Cobra CLI commands for the triage binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/triage-go/internal/audit"
	"github.com/54b3r/triage-go/internal/config"
	"github.com/54b3r/triage-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "triage",
		Short: "Cluster user feedback into actionable issues",
		Long: `triage ingests free-text user feedback (bug reports, support tickets,
survey answers) and groups semantically similar items into clusters, each
with a generated title and summary.

Items are embedded with the configured embedding backend, stored in a vector
index (bolt or qdrant) and tracked in a metadata store (sqlite or redis).
Settings come from environment variables or a YAML config file
(~/.triage/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			// LOG_LEVEL and LOG_FORMAT may have come from the file.
			log = logging.New()
			audit.LogCommandStart(log, cmd.CommandPath(), path)

			cmd.SetContext(logging.WithLogger(cmd.Context(), log))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.triage/config.yaml)")

	root.AddCommand(
		NewClusterCmd(),
		NewIngestCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
