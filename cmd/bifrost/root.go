// Bifrost is a dual-mode HTTP proxy (forward and reverse) with built-in
// static file serving. It terminates client HTTP/1.1, optionally over
// TLS, classifies each request by mode, and either tunnels, forwards, or
// serves content, subject to per-mode resource isolation.
//
// Usage:
//
//	# Run with a config file
//	bifrost run --config /path/to/bifrost.json
//
//	# Validate a config file without starting the listener
//	bifrost validate --config /path/to/bifrost.json
//
//	# Show version information
//	bifrost version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:     "bifrost",
	Short:   "Bifrost - dual-mode HTTP forward/reverse proxy",
	Long:    `Bifrost terminates client HTTP/1.1 connections and, per its configured mode, tunnels (forward), routes to upstream targets (reverse), or serves static files, under per-role resource isolation.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "bifrost.json", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func main() {
	Execute()
}
