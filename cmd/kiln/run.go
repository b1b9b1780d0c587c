package main

import (
	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a single task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Run(options(cmd), args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
