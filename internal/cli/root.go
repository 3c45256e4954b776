// Package cli implements the wats command line.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/wats/internal/config"
	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/fly"
	"github.com/Dicklesworthstone/wats/internal/logging"
	"github.com/Dicklesworthstone/wats/internal/output"
	"github.com/Dicklesworthstone/wats/internal/team"
)

var (
	flagConfig   string
	flagDB       string
	flagOutput   string
	flagJSON     bool
	flagLogLevel string
	flagATC      string
)

var rootCmd = &cobra.Command{
	Use:   "wats",
	Short: "Web acceptance tests for the Concourse dashboard",
	Long: `wats drives the Concourse dashboard through fly and a headless Chrome.

Each scenario provisions a fresh test team, creates pipelines with fly,
logs a browser in as that team and checks that the dashboard renders the
pipeline cards in the expected order.

Configuration is read from .wats/config.toml (see 'wats init'), WATS_*
environment variables and flags, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default .wats/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "ledger database path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output json")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagATC, "atc", "", "ATC URL, overrides atc.url")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the selected output format.
func GetOutput() string {
	if flagJSON {
		return string(output.FormatJSON)
	}
	return flagOutput
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	v, err := config.New(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagATC != "" {
		v.Set("atc.url", flagATC)
	}
	if flagLogLevel != "" {
		v.Set("logging.level", flagLogLevel)
	}
	if flagDB != "" {
		v.Set("ledger.path", flagDB)
	}

	return config.Load(v)
}

// newLogger returns the stderr logger configured by cfg.
func newLogger(cfg *config.Config) (*log.Logger, error) {
	return logging.New(os.Stderr, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

// openLedger opens the ledger, creating it when missing.
func openLedger(cfg *config.Config) (*db.DB, error) {
	ledger, err := db.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return ledger, nil
}

func newFlyClient(cfg *config.Config, logger *log.Logger) (*fly.Client, error) {
	return fly.New(fly.Options{
		Binary:       cfg.Fly.Binary,
		ATCURL:       cfg.ATC.URL,
		AdminTeam:    cfg.ATC.AdminTeam,
		Username:     cfg.ATC.Username,
		Password:     cfg.ATC.Password,
		TargetPrefix: cfg.Fly.TargetPrefix,
		Home:         cfg.Fly.Home,
		Timeout:      cfg.Fly.CommandTimeout(),
		Logger:       logger,
	})
}

func newProvisioner(cfg *config.Config, client team.FlyTeams, ledger *db.DB, runID string, logger *log.Logger) (*team.Provisioner, error) {
	return team.New(client, team.Options{
		Prefix:    cfg.Teams.Prefix,
		AdminTeam: cfg.ATC.AdminTeam,
		ATCURL:    cfg.ATC.URL,
		Ledger:    ledger,
		RunID:     runID,
		Logger:    logger,
	})
}
