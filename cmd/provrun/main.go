// Package main is the entry point for the provrun CLI.
//
// provrun drives bulk operations against a CSPM backend: it registers
// cloud accounts as providers, runs their connection tests with bounded
// concurrency, and launches scans for the providers whose tests passed.
//
// Usage:
//
//	provrun test -c provrun.yaml  # apply accounts and run connection tests
//	provrun scan -c provrun.yaml  # also launch scans for passing providers
//	provrun version               # show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// configPath is bound to the persistent --config flag.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "provrun",
	Short: "Batch connection tests and scan launches for cloud providers",
	Long: `provrun registers cloud accounts with a CSPM backend, polls their
connection-test tasks until they settle, and launches scans for the
providers whose connection tests passed.

Quick start:
  1. Create a config file (provrun.yaml) listing your accounts
  2. Export your API token: export PROVRUN_TOKEN=...
  3. Run: provrun test -c provrun.yaml

Example config:
  base_url: https://api.prowler.example.com
  token: ${PROVRUN_TOKEN}
  concurrency: 5
  accounts:
    - "111111111111"
    - "222222222222"`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("provrun %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "provrun.yaml", "path to the configuration file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}
