package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "tcm-agent",
	Short: "Staged LLM diagnosis and prescription drafting for TCM case records",
	Long: "tcm-agent turns a free-text case record into structured four-examination\n" +
		"findings, a syndrome diagnosis and a safety-screened prescription draft.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Override log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
