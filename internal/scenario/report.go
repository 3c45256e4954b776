package scenario

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Result is the outcome of one scenario.
type Result struct {
	Scenario  string        `json:"scenario" yaml:"scenario"`
	Team      string        `json:"team,omitempty" yaml:"team,omitempty"`
	State     State         `json:"state" yaml:"state"`
	Expected  []string      `json:"expected" yaml:"expected"`
	Actual    []string      `json:"actual,omitempty" yaml:"actual,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Diff      string        `json:"diff,omitempty" yaml:"diff,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	err error
}

// Passed reports whether the scenario reached StateDone.
func (r Result) Passed() bool {
	return r.State == StateDone && r.err == nil
}

// Err returns the scenario's error, if any.
func (r Result) Err() error {
	return r.err
}

// Report is the outcome of a suite run.
type Report struct {
	RunID      string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Results    []Result  `json:"results" yaml:"results"`
	SuiteError string    `json:"suite_error,omitempty" yaml:"suite_error,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	suiteErr error
}

// Passed reports whether the suite set up and every scenario passed.
func (r *Report) Passed() bool {
	return r.suiteErr == nil && r.Failed() == 0
}

// Failed returns the number of failed scenarios.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Err returns the suite error, or every scenario error joined, or nil.
func (r *Report) Err() error {
	if r.suiteErr != nil {
		return r.suiteErr
	}
	var errs []error
	for _, res := range r.Results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Scenario, res.err))
		}
	}
	return errors.Join(errs...)
}

// Merge appends other's results to r. Used to combine parallel suites.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Results = append(r.Results, other.Results...)
	if r.suiteErr == nil && other.suiteErr != nil {
		r.suiteErr = other.suiteErr
		r.SuiteError = other.SuiteError
	}
	if r.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(r.StartedAt)) {
		r.StartedAt = other.StartedAt
	}
	if other.FinishedAt.After(r.FinishedAt) {
		r.FinishedAt = other.FinishedAt
	}
}

// SuiteFailure returns the report of a suite whose setup failed.
func SuiteFailure(runID string, started time.Time, err error) *Report {
	return &Report{
		RunID:      runID,
		SuiteError: err.Error(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		suiteErr:   err,
	}
}

func resultFrom(sc *Context, err error) Result {
	res := Result{
		Scenario: sc.Scenario,
		Team:     sc.TeamName,
		State:    sc.State,
		Expected: slices.Clone(sc.ExpectedOrder),
		Actual:   slices.Clone(sc.Actual),
		Duration: time.Since(sc.StartedAt),
		err:      err,
	}
	if err != nil {
		res.ErrorKind = KindOf(err)
		res.Error = err.Error()
		var mismatch *OrderMismatchError
		if errors.As(err, &mismatch) {
			res.Diff = mismatch.Diff
		}
	}
	return res
}
