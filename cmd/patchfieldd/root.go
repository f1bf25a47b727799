package main

import (
	"fmt"

	"github.com/opd-ai/patchfield/limits"
	"github.com/spf13/cobra"
)

// version is set at link time.
var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "patchfieldd",
		Short:         "Low-latency audio patchfield daemon",
		Long:          "patchfieldd runs the render engine and accepts module attachments over shared memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon and protocol versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patchfieldd %s (protocol %d)\n", version, limits.ProtocolVersion)
		},
	}
}
