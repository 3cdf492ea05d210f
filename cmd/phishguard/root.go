package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for PhishGuard.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phishguard",
		Short: "Multi-model phishing detection service",
		Long: `PhishGuard detects phishing by scoring a URL, the HTML it serves and the
structure of its DOM with three separate models, then averaging the verdicts.

Models run as HTTP sidecars configured in .phishguard (see "phishguard init")
or through PHISHGUARD_*_ENDPOINT environment variables. A modality without a
reachable model is reported as not loaded.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "log debug details to stderr")
	flags.StringP("config", "c", "", "configuration file (default: .phishguard in the working or home directory)")
	flags.Bool("json-logs", false, "write logs as JSON lines")

	cmd.AddCommand(
		NewServeCmd(),
		NewAnalyzeCmd(),
		NewBatchCmd(),
		NewHistoryCmd(),
		NewInitCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "phishguard:", err)
		os.Exit(1)
	}
}
