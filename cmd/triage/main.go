// Command triage groups incoming user feedback into clusters of similar
// reports. It provides a CLI (via Cobra) for ingesting items and running
// clustering passes, and an optional ops HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/triage-go/cmd/triage/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
