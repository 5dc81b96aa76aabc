// Command lavaderoctl holds the operator tasks of the service: password hashes for the
// console credentials and schema migrations of every store.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "lavaderoctl",
		Short:        "Operator tools for the lavadero service",
		SilenceUsage: true,
	}
	root.AddCommand(newHashPasswordCommand(), newVerifyPasswordCommand(), newMigrateCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
