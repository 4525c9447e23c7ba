package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "procd",
	Short: "JSON-RPC-controlled process supervisor",
	Long: `procd launches, observes, restarts, and stops a declared set of child
processes from a TOML configuration file, and exposes a control channel
over a Unix-domain socket for operators to query and drive desired state.

Examples:
  procd serve                  # run the supervisor daemon
  procd validate                # validate a config file and exit
  procd version                 # print version information`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the procd TOML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command, turning any error into exit code 1 per
// spec.md §6's "fatal initialisation error" exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	return cfgFile
}
