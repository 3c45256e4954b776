package db

import "time"

// RunStatus is the lifecycle status of a suite run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
)

// Run is one suite invocation.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	ATCURL     string     `json:"atc_url" yaml:"atc_url"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Team is a test team provisioned by wats.
type Team struct {
	Name        string     `json:"name" yaml:"name"`
	RunID       string     `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ATCURL      string     `json:"atc_url" yaml:"atc_url"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	DestroyedAt *time.Time `json:"destroyed_at,omitempty" yaml:"destroyed_at,omitempty"`
}

// IsLive returns true if the team has not been destroyed.
func (t *Team) IsLive() bool {
	return t.DestroyedAt == nil
}

// ScenarioResult is the recorded outcome of one scenario.
type ScenarioResult struct {
	ID         string     `json:"id" yaml:"id"`
	RunID      string     `json:"run_id" yaml:"run_id"`
	Scenario   string     `json:"scenario" yaml:"scenario"`
	TeamName   string     `json:"team_name,omitempty" yaml:"team_name,omitempty"`
	State      string     `json:"state" yaml:"state"`
	Expected   []string   `json:"expected" yaml:"expected"`
	Actual     []string   `json:"actual,omitempty" yaml:"actual,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Diff       string     `json:"diff,omitempty" yaml:"diff,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Passed reports whether the scenario finished without error.
func (r *ScenarioResult) Passed() bool {
	return r.Error == "" && r.FinishedAt != nil
}

// timeLayout is a fixed-width RFC 3339 layout so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
