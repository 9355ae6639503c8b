package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "incident-engine",
		Short:         "Incident response orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newSubmitCommand(),
		newGetCommand(),
		newDecideCommand(),
		newApprovalsCommand(),
		newEscalateCommand(),
	)
	return root
}
