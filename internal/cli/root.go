// Package cli is the Cobra command tree that serves as this engine's
// request surface (spec.md §6) now that HTTP/WebSocket transport is out of
// scope (SPEC_FULL.md §1 expansion). Each subcommand builds its own Engine
// from config and calls straight into it — there is no network hop, and no
// separate daemon process to address. Grounded on the teacher's
// internal/cli/root.go (Cobra root command, viper.OnInitialize, --config
// flag, AGENTIUM_ env prefix) re-pointed at this engine's AGENTFLEET_ prefix.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andywolf/agentfleet/internal/config"
	"github.com/andywolf/agentfleet/internal/engine"
	"github.com/andywolf/agentfleet/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentfleetd",
	Short: "agentfleetd - orchestrates PTY-attached AI coding agents across a fleet of repositories",
	Long: `agentfleetd drives multi-repository development workflows end to end:
it derives a task plan from a design document, spawns one development agent
per repository, runs a bounded review loop, and opens one draft pull request
per repository.

Example:
  agentfleetd item create --name "add rate limiting" --repo backend=back=git@github.com:org/backend.git
  agentfleetd item setup ITEM-abc12345`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .agentfleet.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}
		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".agentfleet")
	}

	viper.SetEnvPrefix("AGENTFLEET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// buildEngine loads configuration and constructs a fresh Engine, running its
// startup recovery pass. Every subcommand that touches engine state calls
// this once. Because each CLI invocation is its own process, RecoverOrphans
// here is doing real work: any agent left active by a prior invocation that
// has since exited is, by definition, orphaned from this process's point of
// view (spec.md §4.6).
func buildEngine() (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	eng, err := engine.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("building engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	return eng, nil
}
