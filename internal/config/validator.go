package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // config key, e.g. "scenario.wait_timeout_secs"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// nameRegex matches team and pipeline names the ATC accepts.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted logging.format values.
func ValidLogFormats() []string {
	return []string{"auto", "text", "logfmt", "json"}
}

// ValidLoginModes returns the accepted browser.login_mode values.
func ValidLoginModes() []string {
	return []string{"token", "form"}
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateATC()...)
	errs = append(errs, c.validateFly()...)
	errs = append(errs, c.validateTeams()...)
	errs = append(errs, c.validateScenario()...)
	errs = append(errs, c.validateBrowser()...)
	errs = append(errs, c.validateLogging()...)

	if strings.TrimSpace(c.Fixtures.Pipeline) == "" {
		errs = append(errs, ValidationError{"fixtures.pipeline", c.Fixtures.Pipeline, "must not be empty"})
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		errs = append(errs, ValidationError{"ledger.path", c.Ledger.Path, "must not be empty"})
	}

	return errs
}

func (c *Config) validateATC() []ValidationError {
	var errs []ValidationError

	u, err := url.Parse(c.ATC.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{"atc.url", c.ATC.URL, "must be an absolute http(s) URL"})
	}
	if c.ATC.AdminTeam == "" {
		errs = append(errs, ValidationError{"atc.admin_team", c.ATC.AdminTeam, "must not be empty"})
	}
	if (c.ATC.Username == "") != (c.ATC.Password == "") {
		errs = append(errs, ValidationError{"atc.username", c.ATC.Username, "username and password must be set together"})
	}
	return errs
}

func (c *Config) validateFly() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.Fly.Binary) == "" {
		errs = append(errs, ValidationError{"fly.binary", c.Fly.Binary, "must not be empty"})
	}
	if c.Fly.TargetPrefix != "" && !nameRegex.MatchString(c.Fly.TargetPrefix) {
		errs = append(errs, ValidationError{"fly.target_prefix", c.Fly.TargetPrefix, "must start with a letter or digit"})
	}
	if c.Fly.CommandTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{"fly.command_timeout_secs", c.Fly.CommandTimeoutSecs, "must be positive"})
	}
	return errs
}

func (c *Config) validateTeams() []ValidationError {
	// An empty prefix would let cleanup destroy every team on the ATC.
	if c.Teams.Prefix == "" || !nameRegex.MatchString(c.Teams.Prefix) {
		return []ValidationError{{"teams.prefix", c.Teams.Prefix, "must be a non-empty team name prefix"}}
	}
	if c.Teams.Prefix == c.ATC.AdminTeam || strings.HasPrefix(c.ATC.AdminTeam, c.Teams.Prefix) {
		return []ValidationError{{"teams.prefix", c.Teams.Prefix, "must not match the admin team"}}
	}
	return nil
}

func (c *Config) validateScenario() []ValidationError {
	var errs []ValidationError

	if len(c.Scenario.Pipelines) == 0 {
		errs = append(errs, ValidationError{"scenario.pipelines", c.Scenario.Pipelines, "must list at least one pipeline"})
	}
	seen := make(map[string]bool, len(c.Scenario.Pipelines))
	for _, name := range c.Scenario.Pipelines {
		if !nameRegex.MatchString(name) {
			errs = append(errs, ValidationError{"scenario.pipelines", name, "invalid pipeline name"})
		}
		if seen[name] {
			errs = append(errs, ValidationError{"scenario.pipelines", name, "pipeline names must be distinct"})
		}
		seen[name] = true
	}
	if c.Scenario.Reorder && len(c.Scenario.Pipelines) < 2 {
		errs = append(errs, ValidationError{"scenario.reorder", c.Scenario.Reorder, "needs at least two pipelines"})
	}
	if c.Scenario.WaitTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{"scenario.wait_timeout_secs", c.Scenario.WaitTimeoutSecs, "must be positive"})
	}
	if c.Scenario.Parallel < 1 {
		errs = append(errs, ValidationError{"scenario.parallel", c.Scenario.Parallel, "must be at least 1"})
	}
	return errs
}

func (c *Config) validateBrowser() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLoginModes(), c.Browser.LoginMode) {
		errs = append(errs, ValidationError{"browser.login_mode", c.Browser.LoginMode,
			"must be one of " + strings.Join(ValidLoginModes(), ", ")})
	}
	if c.Browser.LoginMode == "form" && c.ATC.Username == "" {
		errs = append(errs, ValidationError{"browser.login_mode", c.Browser.LoginMode, "form login needs atc.username and atc.password"})
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		errs = append(errs, ValidationError{"browser.window_width", fmt.Sprintf("%dx%d", c.Browser.WindowWidth, c.Browser.WindowHeight), "window size must be positive"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level,
			"must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{"logging.format", c.Logging.Format,
			"must be one of " + strings.Join(ValidLogFormats(), ", ")})
	}
	return errs
}
