// Package cmd provides the CLI commands for the governance engine.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runtimegov/governor/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Runtime governance engine for autonomous agent actions",
	Long: `governor evaluates tool calls from autonomous agents against a
six-layer pipeline — kill switch, injection firewall, scope enforcement,
policy matching, risk scoring, and multi-step chain analysis — before an
action is allowed to execute.

Configuration is loaded from governor.yaml in the current directory,
$HOME/.governor/, or /etc/governor/. Environment variables override config
values with the GOVERNOR_ prefix, e.g. GOVERNOR_ENGINE_FEES_ENABLED=true.

Commands:
  serve     Wire the engine and block, printing published events
  kill      Inspect or change the kill switch
  policy    Inspect or load governance policies
  version   Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./governor.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
