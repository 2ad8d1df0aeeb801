// Package main is the entry point for the ctxkeep CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ctxkeep/pkg/version"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "ctxkeep",
	Short: "ctxkeep - context retention for long-running agent sessions",
	Long: `ctxkeep keeps an agent's working context alive across context-window resets.

It indexes memory documents and session logs into a chunked embedding store,
writes hourly and daily summaries, detects compaction events and re-injects a
continuity brief, and recalls relevant context for outgoing prompts.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			printJSON(version.Get())
			return
		}
		fmt.Println(version.GetFullVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
