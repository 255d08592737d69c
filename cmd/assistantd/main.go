// Command assistantd runs the multi-agent conversational orchestrator: an
// HTTP chat surface backed by the turn-handling facade, with the background
// scheduler running alongside it in the same process.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistantd",
		Short:         "Multi-agent conversational orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
