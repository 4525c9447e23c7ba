package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gophpeek/procd/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and exit",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("configuration valid: %s\n", path)
	fmt.Printf("  socket:     %s (group %s)\n", cfg.Daemon.SocketPath, cfg.Daemon.AuthGroup)
	fmt.Printf("  processes:  %d\n", len(cfg.Processes))
	fmt.Printf("  log level:  %s\n", cfg.Daemon.LogLevel)
	return nil
}
