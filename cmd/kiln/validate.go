package main

import (
	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and task graph",
	Long:  `Loads kiln.yaml and assembles every task, pipeline and watch rule without running them. Exits 2 on configuration errors.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Validate(options(cmd))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
