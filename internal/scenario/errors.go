package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies why a scenario failed.
type ErrorKind string

const (
	KindProvisioning   ErrorKind = "provisioning"
	KindAuthentication ErrorKind = "authentication"
	KindFixtureLoad    ErrorKind = "fixture_load"
	KindNavigation     ErrorKind = "navigation"
	KindRenderTimeout  ErrorKind = "render_timeout"
	KindAssertion      ErrorKind = "assertion"
	// KindCancelled marks a scenario skipped because the run was interrupted.
	KindCancelled ErrorKind = "cancelled"
)

// StepError is returned for every scenario failure. It records the state
// the scenario was in when the step failed.
type StepError struct {
	Kind  ErrorKind
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed in state %s: %v", e.Kind, e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" if err is not a *StepError.
func KindOf(err error) ErrorKind {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}
	return ""
}

// RenderTimeoutError is returned when the expected pipeline cards do not
// appear within the wait timeout.
type RenderTimeoutError struct {
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("element %q did not appear within %s", e.Selector, e.Timeout)
}

func (e *RenderTimeoutError) Unwrap() error {
	return e.Err
}

// OrderMismatchError is returned when the rendered pipeline names differ
// from the expected order.
type OrderMismatchError struct {
	Expected []string
	Actual   []string
	// Diff is a human readable (-expected +actual) diff.
	Diff string
}

func (e *OrderMismatchError) Error() string {
	return fmt.Sprintf("pipeline order mismatch: expected [%s], got [%s]",
		strings.Join(e.Expected, ", "), strings.Join(e.Actual, ", "))
}
