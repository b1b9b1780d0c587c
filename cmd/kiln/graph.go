package main

import (
	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the task graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the task registry.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Graph(options(cmd))
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the available tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Tasks(options(cmd))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(tasksCmd)
}
