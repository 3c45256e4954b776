// Package scenario runs the dashboard ordering scenarios: provision a team,
// create pipelines with fly, open the dashboard in a browser and check the
// pipeline cards render in creation order.
//
// The tools the runner drives are consumed through the TeamProvisioner,
// FlyCLI and Browser interfaces.
package scenario

import (
	"context"
	"slices"
	"time"
)

// TeamProvisioner creates and removes isolated test teams.
type TeamProvisioner interface {
	// CleanUpTestTeams destroys every leftover test team.
	CleanUpTestTeams(ctx context.Context) error
	// GrabANewTeam creates a uniquely named team and returns its name.
	GrabANewTeam(ctx context.Context) (string, error)
}

// TeamDestroyer is implemented by provisioners that can destroy a single
// team. The runner uses it when cleanup after each scenario is enabled.
type TeamDestroyer interface {
	DestroyTeam(ctx context.Context, name string) error
}

// FlyCLI authenticates the fly CLI and runs fly commands as a team.
type FlyCLI interface {
	LoginAs(ctx context.Context, team string) error
	// Fly runs command, e.g. "set-pipeline -n -p first -c pipeline.yml".
	Fly(ctx context.Context, team, command string) error
}

// Browser drives the dashboard web UI.
type Browser interface {
	LoginAs(ctx context.Context, team string) error
	AmOnPage(ctx context.Context, path string) error
	// WaitForElement blocks until selector matches or timeout elapses.
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) error
	// ExecuteScript evaluates script in the page and decodes its value into result.
	ExecuteScript(ctx context.Context, script string, result any) error
}

// Screenshotter is implemented by browsers that can capture the page.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Scenario describes one dashboard ordering check.
type Scenario struct {
	Name string
	// Pipelines are created in this order.
	Pipelines []string
	// ReorderTo, when set, is applied with order-pipelines after creation
	// and becomes the expected order.
	ReorderTo []string
}

// Expected returns the order the dashboard must render.
func (s Scenario) Expected() []string {
	if s.ReorderTo != nil {
		return slices.Clone(s.ReorderTo)
	}
	return slices.Clone(s.Pipelines)
}

// OrderingScenario checks that pipelines render in creation order.
func OrderingScenario(pipelines []string) Scenario {
	return Scenario{
		Name:      "shows pipelines in their correct order",
		Pipelines: slices.Clone(pipelines),
	}
}

// ReorderScenario creates pipelines, reverses them with order-pipelines and
// checks the dashboard follows the new order.
func ReorderScenario(pipelines []string) Scenario {
	return Scenario{
		Name:      "shows pipelines in their reordered order",
		Pipelines: slices.Clone(pipelines),
		ReorderTo: Reversed(pipelines),
	}
}

// DefaultScenarios returns the scenarios run for pipelines. The reorder
// scenario is included when reorder is true.
func DefaultScenarios(pipelines []string, reorder bool) []Scenario {
	scenarios := []Scenario{OrderingScenario(pipelines)}
	if reorder && len(pipelines) > 1 {
		scenarios = append(scenarios, ReorderScenario(pipelines))
	}
	return scenarios
}

// Context carries one scenario's state through setup and assertion.
type Context struct {
	Scenario      string
	TeamName      string
	ExpectedOrder []string
	CreationOrder []string
	ReorderTo     []string
	FixturePath   string
	State         State
	// FailedIn is the state the scenario was in when a step failed.
	FailedIn State
	// Created lists the pipelines set so far, in order.
	Created []string
	// Actual is the scraped name list, nil until scraped.
	Actual    []string
	Step      int
	StartedAt time.Time
}

func newContext(s Scenario, fixturePath string) *Context {
	return &Context{
		Scenario:      s.Name,
		ExpectedOrder: s.Expected(),
		CreationOrder: slices.Clone(s.Pipelines),
		ReorderTo:     slices.Clone(s.ReorderTo),
		FixturePath:   fixturePath,
		State:         StateSuiteStart,
		StartedAt:     time.Now(),
	}
}
