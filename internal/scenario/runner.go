package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/wats/internal/db"
)

// DefaultWaitTimeout bounds the wait for pipeline cards to render.
const DefaultWaitTimeout = 30 * time.Second

// DefaultFixturePath is the pipeline configuration every pipeline is set from.
const DefaultFixturePath = "fixtures/states-pipeline.yml"

// Recorder stores scenario results. *db.DB implements it.
type Recorder interface {
	SaveScenarioResult(r *db.ScenarioResult) error
}

// Options configures a Runner.
type Options struct {
	Teams   TeamProvisioner
	Fly     FlyCLI
	Browser Browser

	// Scenarios defaults to the ordering scenario over DefaultPipelineOrder.
	Scenarios   []Scenario
	FixturePath string
	WaitTimeout time.Duration

	// CleanupAfterScenario destroys each scenario's team when it finishes,
	// if Teams implements TeamDestroyer.
	CleanupAfterScenario bool
	// ArtifactsDir receives a screenshot of every failed scenario, if the
	// browser implements Screenshotter. Empty disables screenshots.
	ArtifactsDir string

	Recorder Recorder
	RunID    string
	Reporter *Reporter
	Logger   *log.Logger
}

// Runner runs ordering scenarios one after another. A Runner is not safe for
// concurrent use; run independent Runners to run suites side by side.
type Runner struct {
	opts   Options
	logger *log.Logger
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Teams == nil {
		return nil, errors.New("scenario: team provisioner is required")
	}
	if opts.Fly == nil {
		return nil, errors.New("scenario: fly CLI is required")
	}
	if opts.Browser == nil {
		return nil, errors.New("scenario: browser is required")
	}
	if len(opts.Scenarios) == 0 {
		opts.Scenarios = []Scenario{OrderingScenario(DefaultPipelineOrder)}
	}
	for _, s := range opts.Scenarios {
		if len(s.Pipelines) == 0 {
			return nil, fmt.Errorf("scenario %q: no pipelines", s.Name)
		}
		if dup, ok := firstDuplicate(s.Pipelines); ok {
			return nil, fmt.Errorf("scenario %q: pipeline %q listed twice", s.Name, dup)
		}
		if s.ReorderTo != nil && len(s.ReorderTo) != len(s.Pipelines) {
			return nil, fmt.Errorf("scenario %q: reorder lists %d pipelines, created %d", s.Name, len(s.ReorderTo), len(s.Pipelines))
		}
	}
	if opts.FixturePath == "" {
		opts.FixturePath = DefaultFixturePath
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Runner{opts: opts, logger: logger}, nil
}

// Run cleans up leftover test teams and then runs every scenario.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	if err := r.SetupSuite(ctx); err != nil {
		rep := SuiteFailure(r.opts.RunID, started, err)
		r.opts.Reporter.Summary(rep)
		return rep, err
	}

	rep := r.RunScenarios(ctx)
	rep.StartedAt = started
	r.opts.Reporter.Summary(rep)
	return rep, rep.Err()
}

// SetupSuite destroys every leftover test team. A failure aborts the suite.
func (r *Runner) SetupSuite(ctx context.Context) error {
	r.logger.Info("cleaning up test teams")
	if err := r.opts.Teams.CleanUpTestTeams(ctx); err != nil {
		return &StepError{Kind: KindProvisioning, State: StateSuiteStart, Err: err}
	}
	return nil
}

// RunScenarios runs every scenario without suite setup. Each scenario gets
// a fresh team; a failed scenario does not stop the next one.
func (r *Runner) RunScenarios(ctx context.Context) *Report {
	rep := &Report{RunID: r.opts.RunID, StartedAt: time.Now()}

	for _, s := range r.opts.Scenarios {
		if err := ctx.Err(); err != nil {
			rep.Results = append(rep.Results, r.skip(s, err))
			continue
		}
		rep.Results = append(rep.Results, r.runOne(ctx, s))
	}

	rep.FinishedAt = time.Now()
	return rep
}

func (r *Runner) runOne(ctx context.Context, s Scenario) Result {
	r.opts.Reporter.Scenario(s.Name)

	sc, err := r.SetupScenario(ctx, s)
	if err == nil {
		err = r.RunScenario(ctx, sc)
	}
	if err != nil {
		r.logger.Error("scenario failed", "scenario", s.Name, "team", sc.TeamName, "state", sc.State, "err", err)
		r.saveScreenshot(ctx, sc)
	} else {
		r.logger.Info("scenario passed", "scenario", s.Name, "team", sc.TeamName)
	}

	res := resultFrom(sc, err)
	r.record(sc, res)
	r.opts.Reporter.Result(res)

	if r.opts.CleanupAfterScenario && sc.TeamName != "" {
		r.destroyTeam(ctx, sc.TeamName)
	}
	return res
}

// skip records s as failed without running it.
func (r *Runner) skip(s Scenario, cause error) Result {
	sc := newContext(s, r.opts.FixturePath)
	err := r.fail(sc, KindCancelled, fmt.Errorf("scenario not run: %w", cause))
	r.logger.Warn("scenario skipped", "scenario", s.Name, "err", cause)

	res := resultFrom(sc, err)
	r.record(sc, res)
	r.opts.Reporter.Scenario(s.Name)
	r.opts.Reporter.Result(res)
	return res
}

// SetupScenario provisions a team, logs fly in, creates the scenario's
// pipelines in order, logs the browser in and opens the dashboard. The
// returned Context is never nil; on error its State is StateFailed.
func (r *Runner) SetupScenario(ctx context.Context, s Scenario) (*Context, error) {
	sc := newContext(s, r.opts.FixturePath)

	r.step(sc, "grabbing a new team")
	team, err := r.opts.Teams.GrabANewTeam(ctx)
	if err != nil {
		return sc, r.fail(sc, KindProvisioning, err)
	}
	sc.TeamName = team
	if err := r.advance(sc, StateTeamProvisioned); err != nil {
		return sc, err
	}

	r.step(sc, "fly login as %s", team)
	if err := r.opts.Fly.LoginAs(ctx, team); err != nil {
		return sc, r.fail(sc, KindAuthentication, err)
	}
	if err := r.advance(sc, StateAuthenticatedCLI); err != nil {
		return sc, err
	}

	for _, name := range sc.CreationOrder {
		cmd := SetPipelineCommand(name, sc.FixturePath)
		r.step(sc, "fly %s", cmd)
		if err := r.opts.Fly.Fly(ctx, team, cmd); err != nil {
			return sc, r.fail(sc, KindFixtureLoad, fmt.Errorf("setting pipeline %s: %w", name, err))
		}
		sc.Created = append(sc.Created, name)
	}
	if err := r.advance(sc, StatePipelinesCreated); err != nil {
		return sc, err
	}

	if sc.ReorderTo != nil {
		cmd := OrderPipelinesCommand(sc.ReorderTo)
		r.step(sc, "fly %s", cmd)
		if err := r.opts.Fly.Fly(ctx, team, cmd); err != nil {
			return sc, r.fail(sc, KindFixtureLoad, fmt.Errorf("ordering pipelines: %w", err))
		}
		if err := r.advance(sc, StatePipelinesReordered); err != nil {
			return sc, err
		}
	}

	r.step(sc, "browser login as %s", team)
	if err := r.opts.Browser.LoginAs(ctx, team); err != nil {
		return sc, r.fail(sc, KindAuthentication, err)
	}
	if err := r.advance(sc, StateAuthenticatedBrowser); err != nil {
		return sc, err
	}

	r.step(sc, "open %s", DashboardPath)
	if err := r.opts.Browser.AmOnPage(ctx, DashboardPath); err != nil {
		return sc, r.fail(sc, KindNavigation, err)
	}
	if err := r.advance(sc, StateDashboardLoaded); err != nil {
		return sc, err
	}

	return sc, nil
}

// RunScenario waits for every expected pipeline card, scrapes the rendered
// names and compares them with the expected order. sc must come from a
// successful SetupScenario.
func (r *Runner) RunScenario(ctx context.Context, sc *Context) error {
	if sc.State != StateDashboardLoaded {
		return &TransitionError{From: sc.State, To: StateCardsRendered, Message: "dashboard not loaded"}
	}

	selector := NthCardSelector(len(sc.ExpectedOrder))
	r.step(sc, "wait for %s", selector)
	if err := r.opts.Browser.WaitForElement(ctx, selector, r.opts.WaitTimeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &RenderTimeoutError{Selector: selector, Timeout: r.opts.WaitTimeout, Err: err}
		}
		return r.fail(sc, KindRenderTimeout, err)
	}
	if err := r.advance(sc, StateCardsRendered); err != nil {
		return err
	}

	r.step(sc, "scrape pipeline names")
	var names []string
	if err := r.opts.Browser.ExecuteScript(ctx, ScrapeNamesScript, &names); err != nil {
		return r.fail(sc, KindAssertion, fmt.Errorf("scraping pipeline names: %w", err))
	}
	if names == nil {
		names = []string{}
	}
	sc.Actual = names
	if err := r.advance(sc, StateNamesScraped); err != nil {
		return err
	}

	r.step(sc, "expect [%s]", strings.Join(sc.ExpectedOrder, ", "))
	if err := CompareOrder(sc.ExpectedOrder, sc.Actual); err != nil {
		return r.fail(sc, KindAssertion, err)
	}
	if err := r.advance(sc, StateAsserted); err != nil {
		return err
	}
	return r.advance(sc, StateDone)
}

func (r *Runner) step(sc *Context, format string, args ...any) {
	sc.Step++
	r.logger.Debug(fmt.Sprintf(format, args...), "step", sc.Step, "state", sc.State, "team", sc.TeamName)
	r.opts.Reporter.Step(sc.Step, format, args...)
}

func (r *Runner) advance(sc *Context, to State) error {
	if err := ValidateTransition(sc.State, to); err != nil {
		sc.State = StateFailed
		return err
	}
	r.logger.Debug("state", "from", sc.State, "to", to, "team", sc.TeamName)
	sc.State = to
	return nil
}

func (r *Runner) fail(sc *Context, kind ErrorKind, err error) error {
	stepErr := &StepError{Kind: kind, State: sc.State, Err: err}
	sc.FailedIn = sc.State
	sc.State = StateFailed
	return stepErr
}

func (r *Runner) record(sc *Context, res Result) {
	if r.opts.Recorder == nil || r.opts.RunID == "" {
		return
	}
	finished := time.Now().UTC()
	err := r.opts.Recorder.SaveScenarioResult(&db.ScenarioResult{
		RunID:      r.opts.RunID,
		Scenario:   res.Scenario,
		TeamName:   res.Team,
		State:      string(res.State),
		Expected:   res.Expected,
		Actual:     res.Actual,
		ErrorKind:  string(res.ErrorKind),
		Error:      res.Error,
		Diff:       res.Diff,
		StartedAt:  sc.StartedAt.UTC(),
		FinishedAt: &finished,
	})
	if err != nil {
		r.logger.Warn("recording scenario result", "scenario", res.Scenario, "err", err)
	}
}

func (r *Runner) destroyTeam(ctx context.Context, team string) {
	destroyer, ok := r.opts.Teams.(TeamDestroyer)
	if !ok {
		r.logger.Warn("team provisioner cannot destroy single teams", "team", team)
		return
	}
	if err := destroyer.DestroyTeam(ctx, team); err != nil {
		r.logger.Warn("destroying scenario team", "team", team, "err", err)
	}
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// browserStates are the states in which a failing step involved the page.
var browserStates = map[State]bool{
	StatePipelinesCreated:     true,
	StatePipelinesReordered:   true,
	StateAuthenticatedBrowser: true,
	StateDashboardLoaded:      true,
	StateCardsRendered:        true,
	StateNamesScraped:         true,
}

func (r *Runner) saveScreenshot(ctx context.Context, sc *Context) {
	if r.opts.ArtifactsDir == "" || !browserStates[sc.FailedIn] {
		return
	}
	shooter, ok := r.opts.Browser.(Screenshotter)
	if !ok {
		return
	}
	png, err := shooter.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("taking screenshot", "err", err)
		return
	}
	if err := os.MkdirAll(r.opts.ArtifactsDir, 0750); err != nil {
		r.logger.Warn("creating artifacts dir", "err", err)
		return
	}
	name := unsafeFileChars.ReplaceAllString(sc.TeamName+"-"+sc.Scenario, "_") + ".png"
	path := filepath.Join(r.opts.ArtifactsDir, name)
	if err := os.WriteFile(path, png, 0644); err != nil {
		r.logger.Warn("writing screenshot", "path", path, "err", err)
		return
	}
	r.logger.Info("saved screenshot", "path", path)
}

func firstDuplicate(names []string) (string, bool) {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n, true
		}
		seen[n] = true
	}
	return "", false
}
