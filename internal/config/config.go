// Package config loads wats configuration.
//
// Precedence: defaults < config file (.wats/config.toml or --config) < env (WATS_*) < flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. WATS_ATC_URL.
const EnvPrefix = "WATS"

// Config represents the complete wats configuration.
type Config struct {
	ATC      ATCConfig      `mapstructure:"atc" toml:"atc" json:"atc" yaml:"atc"`
	Fly      FlyConfig      `mapstructure:"fly" toml:"fly" json:"fly" yaml:"fly"`
	Teams    TeamsConfig    `mapstructure:"teams" toml:"teams" json:"teams" yaml:"teams"`
	Fixtures FixturesConfig `mapstructure:"fixtures" toml:"fixtures" json:"fixtures" yaml:"fixtures"`
	Scenario ScenarioConfig `mapstructure:"scenario" toml:"scenario" json:"scenario" yaml:"scenario"`
	Browser  BrowserConfig  `mapstructure:"browser" toml:"browser" json:"browser" yaml:"browser"`
	Logging  LoggingConfig  `mapstructure:"logging" toml:"logging" json:"logging" yaml:"logging"`
	Ledger   LedgerConfig   `mapstructure:"ledger" toml:"ledger" json:"ledger" yaml:"ledger"`
}

// ATCConfig describes the web node under test.
type ATCConfig struct {
	// URL is the external URL of the ATC, e.g. http://localhost:8080.
	URL string `mapstructure:"url" toml:"url" json:"url" yaml:"url"`
	// AdminTeam is the team allowed to create and destroy other teams.
	AdminTeam string `mapstructure:"admin_team" toml:"admin_team" json:"admin_team" yaml:"admin_team"`
	// Username and Password are basic-auth credentials. Empty means the
	// teams are created without auth.
	Username string `mapstructure:"username" toml:"username" json:"username" yaml:"username"`
	Password string `mapstructure:"password" toml:"password" json:"password" yaml:"password"`
}

// FlyConfig controls how the fly CLI is invoked.
type FlyConfig struct {
	// Binary is the fly executable (looked up on PATH when not absolute).
	Binary string `mapstructure:"binary" toml:"binary" json:"binary" yaml:"binary"`
	// TargetPrefix prefixes every fly target wats creates. Each team gets
	// its own target so concurrent scenarios never share one.
	TargetPrefix string `mapstructure:"target_prefix" toml:"target_prefix" json:"target_prefix" yaml:"target_prefix"`
	// Home is the HOME fly runs with; fly keeps its targets in $HOME/.flyrc.
	// Empty inherits the environment. A leading ~ is expanded.
	Home string `mapstructure:"home" toml:"home" json:"home" yaml:"home"`
	// CommandTimeoutSecs bounds a single fly invocation.
	CommandTimeoutSecs int `mapstructure:"command_timeout_secs" toml:"command_timeout_secs" json:"command_timeout_secs" yaml:"command_timeout_secs"`
}

// TeamsConfig controls test team provisioning.
type TeamsConfig struct {
	// Prefix marks teams owned by wats. Cleanup only ever touches these.
	Prefix string `mapstructure:"prefix" toml:"prefix" json:"prefix" yaml:"prefix"`
	// CleanupAfterScenario destroys a scenario's team once it finishes.
	CleanupAfterScenario bool `mapstructure:"cleanup_after_scenario" toml:"cleanup_after_scenario" json:"cleanup_after_scenario" yaml:"cleanup_after_scenario"`
}

// FixturesConfig points at the pipeline configuration templates.
type FixturesConfig struct {
	Pipeline string `mapstructure:"pipeline" toml:"pipeline" json:"pipeline" yaml:"pipeline"`
}

// ScenarioConfig controls the dashboard ordering scenarios.
type ScenarioConfig struct {
	// Pipelines is the creation order, and the expected render order.
	Pipelines []string `mapstructure:"pipelines" toml:"pipelines" json:"pipelines" yaml:"pipelines"`
	// Reorder enables the order-pipelines scenario.
	Reorder bool `mapstructure:"reorder" toml:"reorder" json:"reorder" yaml:"reorder"`
	// WaitTimeoutSecs bounds the wait for pipeline cards to render.
	WaitTimeoutSecs int `mapstructure:"wait_timeout_secs" toml:"wait_timeout_secs" json:"wait_timeout_secs" yaml:"wait_timeout_secs"`
	// Parallel is the number of suites run side by side by `wats run`.
	Parallel int `mapstructure:"parallel" toml:"parallel" json:"parallel" yaml:"parallel"`
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" toml:"headless" json:"headless" yaml:"headless"`
	// ExecPath overrides the Chrome executable chromedp launches.
	ExecPath string `mapstructure:"exec_path" toml:"exec_path" json:"exec_path" yaml:"exec_path"`
	// LoginMode is "token" (reuse the fly token as the auth cookie) or
	// "form" (submit the team login form).
	LoginMode    string `mapstructure:"login_mode" toml:"login_mode" json:"login_mode" yaml:"login_mode"`
	WindowWidth  int    `mapstructure:"window_width" toml:"window_width" json:"window_width" yaml:"window_width"`
	WindowHeight int    `mapstructure:"window_height" toml:"window_height" json:"window_height" yaml:"window_height"`
	// Selectors used by the form login.
	UsernameSelector string `mapstructure:"username_selector" toml:"username_selector" json:"username_selector" yaml:"username_selector"`
	PasswordSelector string `mapstructure:"password_selector" toml:"password_selector" json:"password_selector" yaml:"password_selector"`
	SubmitSelector   string `mapstructure:"submit_selector" toml:"submit_selector" json:"submit_selector" yaml:"submit_selector"`
	// ArtifactsDir receives screenshots of failed scenarios. Empty disables them.
	ArtifactsDir string `mapstructure:"artifacts_dir" toml:"artifacts_dir" json:"artifacts_dir" yaml:"artifacts_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" toml:"level" json:"level" yaml:"level"`
	// Format is one of auto, text, logfmt, json. auto picks text on a
	// terminal and logfmt otherwise.
	Format string `mapstructure:"format" toml:"format" json:"format" yaml:"format"`
}

// LedgerConfig locates the local sqlite record of runs and teams.
type LedgerConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ATC: ATCConfig{
			URL:       "http://localhost:8080",
			AdminTeam: "main",
		},
		Fly: FlyConfig{
			Binary:             "fly",
			TargetPrefix:       "wats",
			CommandTimeoutSecs: 60,
		},
		Teams: TeamsConfig{
			Prefix: "wats-team-",
		},
		Fixtures: FixturesConfig{
			Pipeline: filepath.Join("fixtures", "states-pipeline.yml"),
		},
		Scenario: ScenarioConfig{
			Pipelines:       []string{"first", "second", "third", "fourth", "fifth"},
			Reorder:         true,
			WaitTimeoutSecs: 30,
			Parallel:        1,
		},
		Browser: BrowserConfig{
			Headless:         true,
			LoginMode:        "token",
			WindowWidth:      1280,
			WindowHeight:     1024,
			UsernameSelector: `input[name="username"]`,
			PasswordSelector: `input[name="password"]`,
			SubmitSelector:   `button[type="submit"]`,
			ArtifactsDir:     filepath.Join(".wats", "artifacts"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Ledger: LedgerConfig{
			Path: filepath.Join(".wats", "state.db"),
		},
	}
}

// WaitTimeout returns the card render timeout as a duration.
func (c ScenarioConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSecs) * time.Second
}

// CommandTimeout returns the per-invocation fly timeout as a duration.
func (c FlyConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSecs) * time.Second
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("atc.url", d.ATC.URL)
	v.SetDefault("atc.admin_team", d.ATC.AdminTeam)
	v.SetDefault("atc.username", d.ATC.Username)
	v.SetDefault("atc.password", d.ATC.Password)

	v.SetDefault("fly.binary", d.Fly.Binary)
	v.SetDefault("fly.target_prefix", d.Fly.TargetPrefix)
	v.SetDefault("fly.home", d.Fly.Home)
	v.SetDefault("fly.command_timeout_secs", d.Fly.CommandTimeoutSecs)

	v.SetDefault("teams.prefix", d.Teams.Prefix)
	v.SetDefault("teams.cleanup_after_scenario", d.Teams.CleanupAfterScenario)

	v.SetDefault("fixtures.pipeline", d.Fixtures.Pipeline)

	v.SetDefault("scenario.pipelines", d.Scenario.Pipelines)
	v.SetDefault("scenario.reorder", d.Scenario.Reorder)
	v.SetDefault("scenario.wait_timeout_secs", d.Scenario.WaitTimeoutSecs)
	v.SetDefault("scenario.parallel", d.Scenario.Parallel)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.exec_path", d.Browser.ExecPath)
	v.SetDefault("browser.login_mode", d.Browser.LoginMode)
	v.SetDefault("browser.window_width", d.Browser.WindowWidth)
	v.SetDefault("browser.window_height", d.Browser.WindowHeight)
	v.SetDefault("browser.username_selector", d.Browser.UsernameSelector)
	v.SetDefault("browser.password_selector", d.Browser.PasswordSelector)
	v.SetDefault("browser.submit_selector", d.Browser.SubmitSelector)
	v.SetDefault("browser.artifacts_dir", d.Browser.ArtifactsDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("ledger.path", d.Ledger.Path)
}

// New returns a viper instance with defaults and WATS_* env overrides
// registered. If path is non-empty the file is read; otherwise the project
// config at .wats/config.toml is read when present.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		return v, nil
	}

	project := ProjectFile(".")
	if _, err := os.Stat(project); err == nil {
		v.SetConfigFile(project)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", project, err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ProjectDir returns the .wats directory within dir.
func ProjectDir(dir string) string {
	return filepath.Join(dir, ".wats")
}

// ProjectFile returns the project config path within dir.
func ProjectFile(dir string) string {
	return filepath.Join(ProjectDir(dir), "config.toml")
}
