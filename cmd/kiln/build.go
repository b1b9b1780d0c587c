package main

import (
	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the production build",
	Long:  `Runs the default task (the full build when none is configured). Exits 1 when any task fails.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Run(options(cmd), "")
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
