// Package cmd provides the CLI commands for dashgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ahmdfdhilah/dashgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dashgate",
	Short: "dashgate - SSO session gateway for internal dashboards",
	Long: `dashgate keeps an SSO session for a set of internal dashboards.

It captures tokens handed off by the SSO portal, persists them across
restarts, refreshes the access token before it expires and guards every
dashboard route until the user's profile is known.

Quick start:
  1. Create a config file: dashgate.yaml
  2. Run: dashgate start

Configuration:
  Config is loaded from dashgate.yaml in the current directory,
  $HOME/.dashgate/, or /etc/dashgate/.

  Environment variables can override config values with the DASHGATE_ prefix.
  Example: DASHGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway
  stop        Stop the running gateway
  status      Show the stored session
  logout      End the stored session
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dashgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
