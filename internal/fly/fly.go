// Package fly drives the fly CLI against an ATC.
//
// Every team gets its own fly target, named <prefix>-<team>, so scenarios
// running side by side never share a target in the flyrc.
package fly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"
)

const waitDelay = 500 * time.Millisecond

// Options configures a Client.
type Options struct {
	// Binary is the fly executable, looked up on PATH when not a path.
	Binary string
	// ATCURL is the ATC every target points at.
	ATCURL string
	// AdminTeam is the team used for set-team, destroy-team and teams.
	AdminTeam string
	// Username and Password are passed to login and set-team when set.
	Username string
	Password string
	// TargetPrefix prefixes every target name.
	TargetPrefix string
	// Home overrides HOME for fly invocations.
	Home string
	// Timeout bounds each invocation. Zero means no per-command bound.
	Timeout time.Duration
	Logger  *log.Logger
}

// Client runs fly commands.
type Client struct {
	opts   Options
	binary string
	home   string
	logger *log.Logger
}

// New returns a Client after resolving the fly binary.
func New(opts Options) (*Client, error) {
	if opts.Binary == "" {
		opts.Binary = "fly"
	}
	if opts.ATCURL == "" {
		return nil, errors.New("fly: ATC URL is required")
	}
	if opts.AdminTeam == "" {
		opts.AdminTeam = "main"
	}

	binary, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("fly: locating %s: %w", opts.Binary, err)
	}

	home := ""
	if opts.Home != "" {
		home, err = expandUserPath(opts.Home)
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Client{opts: opts, binary: binary, home: home, logger: logger}, nil
}

// Target returns the fly target name used for team.
func (c *Client) Target(team string) string {
	if c.opts.TargetPrefix == "" {
		return team
	}
	return c.opts.TargetPrefix + "-" + team
}

// AdminTeam returns the team used for team management.
func (c *Client) AdminTeam() string {
	return c.opts.AdminTeam
}

// LoginAs logs the team's target into the ATC.
func (c *Client) LoginAs(ctx context.Context, team string) error {
	args := []string{"login", "-c", c.opts.ATCURL, "-n", team}
	if c.opts.Username != "" {
		args = append(args, "-u", c.opts.Username, "-p", c.opts.Password)
	}
	_, err := c.Run(ctx, team, args...)
	return err
}

// Fly runs a fly command line against the team's target. The command is
// split with shell quoting rules, e.g. `set-pipeline -n -p first -c x.yml`.
func (c *Client) Fly(ctx context.Context, team, command string) error {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return fmt.Errorf("fly: parsing command %q: %w", command, err)
	}
	if len(args) == 0 {
		return errors.New("fly: empty command")
	}
	_, err = c.Run(ctx, team, args...)
	return err
}

// Run executes fly with args against team's target and returns stdout.
// A non-zero exit is returned as *CommandError.
func (c *Client) Run(ctx context.Context, team string, args ...string) ([]byte, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	full := append([]string{"-t", c.Target(team)}, args...)
	cmd := exec.CommandContext(ctx, c.binary, full...)
	// fly may leave children holding the output pipes after a kill.
	cmd.WaitDelay = waitDelay
	if c.home != "" {
		cmd.Env = append(os.Environ(), "HOME="+c.home)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("fly", "target", c.Target(team), "args", redact(args), "duration", time.Since(start), "err", err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return stdout.Bytes(), &CommandError{
			Args:     redact(full),
			ExitCode: exitCode(err),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// FlyrcPath returns the flyrc the client's fly invocations use.
func (c *Client) FlyrcPath() (string, error) {
	home := c.home
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
	}
	return filepath.Join(home, ".flyrc"), nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// redact masks the password argument of a login so it stays out of logs
// and errors. Other subcommands use -p for pipeline names and are untouched.
func redact(args []string) []string {
	out := append([]string(nil), args...)
	login := false
	for i, a := range out {
		if a == "login" {
			login = true
		}
		if login && (a == "-p" || a == "--password") && i+1 < len(out) {
			out[i+1] = "********"
		}
	}
	return out
}

func expandUserPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/")), nil
	}
	return p, nil
}
