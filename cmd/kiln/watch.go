package main

import (
	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start development mode with live reload",
	Long:  `Runs the watch-init task, serves the source tree with an injected reload client and reruns affected tasks on change until interrupted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RunWatch(options(cmd))
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
