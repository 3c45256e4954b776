package fly

import (
	"fmt"
	"strings"
)

// CommandError is returned when a fly invocation fails.
type CommandError struct {
	// Args are the arguments fly was run with, passwords masked.
	Args []string
	// ExitCode is the process exit code, or -1 if fly did not exit normally.
	ExitCode int
	// Stderr is the trimmed standard error output.
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("fly %s: exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
