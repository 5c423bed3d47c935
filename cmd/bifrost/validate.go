package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nabbar/bifrost/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file without starting the listener",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	if _, err := cfg.BuildRouteTable(); err != nil {
		return fmt.Errorf("reverse_proxy_routes invalid: %w", err)
	}

	fmt.Printf("%s is valid (mode=%s, listen_addr=%s)\n", cfgFile, cfg.Mode, cfg.ListenAddr)
	return nil
}
