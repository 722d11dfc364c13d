package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/triage-go/internal/version"
)

// NewVersionCmd constructs the `triage version` subcommand. Version, commit
// and build date are injected via -ldflags and fall back to "dev"/"unknown".
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the triage version, git commit, and build date",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "triage %s\n", version.String())
		},
	}
}
