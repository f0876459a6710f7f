package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "patternd",
	Short: "Declarative pattern execution engine",
	Long: `patternd loads declarative workflow patterns from a directory and
executes them against a registry of capability handlers. Every invocation is
pinned to a pricing snapshot and ledger reference, producing deterministic,
replayable results with a full step trace.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("patternd v1.0.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: patternd.yaml in ., $HOME/.patternd, /etc/patternd)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(capabilitiesCmd)
}
