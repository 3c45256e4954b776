package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// FlyRule makes the fake fly answer invocations whose space-joined
// arguments contain Match. The first matching rule wins.
type FlyRule struct {
	Match     string
	Stdout    string
	Stderr    string
	ExitCode  int
	SleepSecs int
}

// FakeFly is a shell script standing in for the fly CLI. It records every
// invocation and answers according to its rules, exiting 0 otherwise.
type FakeFly struct {
	t       testing.TB
	Path    string
	LogPath string
	rules   []FlyRule
}

// NewFakeFly writes a fake fly executable into a temp directory.
func NewFakeFly(t testing.TB) *FakeFly {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake fly is a POSIX shell script")
	}

	dir := t.TempDir()
	f := &FakeFly{
		t:       t,
		Path:    filepath.Join(dir, "fly"),
		LogPath: filepath.Join(dir, "calls.log"),
	}
	f.write()
	return f
}

// On adds a rule and rewrites the script.
func (f *FakeFly) On(rule FlyRule) *FakeFly {
	f.t.Helper()
	f.rules = append(f.rules, rule)
	f.write()
	return f
}

// Calls returns the argument lists of every invocation so far.
func (f *FakeFly) Calls() [][]string {
	f.t.Helper()

	data, err := os.ReadFile(f.LogPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		f.t.Fatalf("reading fake fly log: %v", err)
	}

	var calls [][]string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		calls = append(calls, strings.Split(strings.TrimSuffix(line, "\x1f"), "\x1f"))
	}
	return calls
}

// CallLines returns every invocation with its arguments joined by spaces.
func (f *FakeFly) CallLines() []string {
	calls := f.Calls()
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, strings.Join(c, " "))
	}
	return lines
}

func (f *FakeFly) write() {
	f.t.Helper()

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	// One write per invocation keeps lines whole when calls run concurrently.
	sb.WriteString("sep=$(printf '\\037')\nline=\n")
	sb.WriteString("for a in \"$@\"; do line=\"$line$a$sep\"; done\n")
	fmt.Fprintf(&sb, "printf '%%s\\n' \"$line\" >> %s\n", shellQuote(f.LogPath))
	sb.WriteString("args=\"$*\"\n")
	sb.WriteString("case \"$args\" in\n")
	for _, r := range f.rules {
		fmt.Fprintf(&sb, "  *%s*)\n", shellQuote(r.Match))
		if r.SleepSecs > 0 {
			fmt.Fprintf(&sb, "    sleep %d\n", r.SleepSecs)
		}
		if r.Stdout != "" {
			fmt.Fprintf(&sb, "    printf '%%s' %s\n", shellQuote(r.Stdout))
		}
		if r.Stderr != "" {
			fmt.Fprintf(&sb, "    printf '%%s' %s >&2\n", shellQuote(r.Stderr))
		}
		fmt.Fprintf(&sb, "    exit %d ;;\n", r.ExitCode)
	}
	sb.WriteString("esac\nexit 0\n")

	if err := os.WriteFile(f.Path, []byte(sb.String()), 0755); err != nil {
		f.t.Fatalf("writing fake fly: %v", err)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WriteFlyrc writes home/.flyrc with a bearer token for each target.
func WriteFlyrc(t testing.TB, home, api string, tokens map[string]string) string {
	t.Helper()

	type token struct {
		Type  string `yaml:"type"`
		Value string `yaml:"value"`
	}
	type target struct {
		API   string `yaml:"api"`
		Team  string `yaml:"team"`
		Token token  `yaml:"token"`
	}
	rc := struct {
		Targets map[string]target `yaml:"targets"`
	}{Targets: map[string]target{}}
	for name, value := range tokens {
		rc.Targets[name] = target{API: api, Team: name, Token: token{Type: "Bearer", Value: value}}
	}

	data, err := yaml.Marshal(rc)
	if err != nil {
		t.Fatalf("encoding flyrc: %v", err)
	}
	path := filepath.Join(home, ".flyrc")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("writing flyrc: %v", err)
	}
	return path
}
