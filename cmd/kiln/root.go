package main

import (
	"fmt"
	"os"

	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "kiln",
	Short:         "Kiln is a front-end build orchestrator",
	Long:          `Kiln compiles, bundles and optimizes web assets through declarative pipelines, and serves them with live reload during development.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Run(options(cmd), "")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func options(cmd *cobra.Command) cli.Options {
	dir, _ := cmd.Flags().GetString("dir")
	configFile, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	logFormat, _ := cmd.Flags().GetString("log-format")
	quiet, _ := cmd.Flags().GetBool("quiet")
	return cli.Options{
		Dir:        dir,
		ConfigFile: configFile,
		Debug:      debug,
		LogFormat:  logFormat,
		Quiet:      quiet,
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("dir", ".", "Project directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default kiln.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only print failures")
}
