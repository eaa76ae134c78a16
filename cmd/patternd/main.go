// Package main implements the patternd daemon and its operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML file to load; empty means the default location.
	configPath string
	// serverURL is the admin API used by the client commands.
	serverURL string
	// outputJSON prints raw JSON instead of tables.
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternd",
	Short: "Pattern lifecycle engine",
	Long: `patternd learns reusable patterns from observed outcomes, scores them,
decays stale ones and graduates proven ones from a single user up to a global
catalogue.

Run "patternd serve" to start the daemon. The other commands either run a
lifecycle pass directly against the configured store or talk to a running
daemon over its admin API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/patternd/config.yaml)")
	rootCmd.SetVersionTemplate(versionString())
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("patternd by Fyrsmith Labs\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n",
		version, gitCommit, buildDate)
}

// loadConfig reads configuration for commands that build the engines.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}
