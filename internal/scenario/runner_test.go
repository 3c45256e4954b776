package scenario

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/wats/internal/testutil"
)

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	opts.Logger = testutil.TestLogger(t)
	r, err := NewRunner(opts)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no teams", func(o *Options) { o.Teams = nil }},
		{"no fly", func(o *Options) { o.Fly = nil }},
		{"no browser", func(o *Options) { o.Browser = nil }},
		{"empty scenario", func(o *Options) { o.Scenarios = []Scenario{{Name: "empty"}} }},
		{"duplicate pipelines", func(o *Options) {
			o.Scenarios = []Scenario{OrderingScenario([]string{"a", "b", "a"})}
		}},
		{"short reorder", func(o *Options) {
			o.Scenarios = []Scenario{{Name: "bad", Pipelines: []string{"a", "b"}, ReorderTo: []string{"a"}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := f.options()
			tt.mutate(&opts)
			if _, err := NewRunner(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_ShowsPipelinesInTheirCorrectOrder(t *testing.T) {
	f := newFixture()
	r := newTestRunner(t, f.options())

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Passed() || len(rep.Results) != 1 {
		t.Fatalf("report = %+v", rep)
	}

	res := rep.Results[0]
	if res.State != StateDone {
		t.Errorf("State = %s, want %s", res.State, StateDone)
	}
	if !slices.Equal(res.Actual, DefaultPipelineOrder) {
		t.Errorf("Actual = %v, want %v", res.Actual, DefaultPipelineOrder)
	}
	if f.atc.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", f.atc.cleanups)
	}

	wantCommands := []string{
		"set-pipeline -n -p first -c fixtures/states-pipeline.yml",
		"set-pipeline -n -p second -c fixtures/states-pipeline.yml",
		"set-pipeline -n -p third -c fixtures/states-pipeline.yml",
		"set-pipeline -n -p fourth -c fixtures/states-pipeline.yml",
		"set-pipeline -n -p fifth -c fixtures/states-pipeline.yml",
	}
	if !slices.Equal(f.fly.commands, wantCommands) {
		t.Errorf("fly commands = %q", f.fly.commands)
	}
	if !slices.Equal(f.fly.logins, []string{res.Team}) {
		t.Errorf("fly logins = %v, want [%s]", f.fly.logins, res.Team)
	}
	if f.browser.team != res.Team || f.browser.page != DashboardPath {
		t.Errorf("browser team=%q page=%q", f.browser.team, f.browser.page)
	}
	if !slices.Equal(f.browser.waited, []string{".dashboard-pipeline:nth-child(5)"}) {
		t.Errorf("waited = %q", f.browser.waited)
	}
}

func TestRun_SameOutcomeForDifferentTeams(t *testing.T) {
	f := newFixture()
	opts := f.options()
	opts.Scenarios = []Scenario{OrderingScenario(DefaultPipelineOrder), OrderingScenario(DefaultPipelineOrder)}
	r := newTestRunner(t, opts)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Results[0].Team == rep.Results[1].Team {
		t.Errorf("scenarios shared team %s", rep.Results[0].Team)
	}
	for _, res := range rep.Results {
		if !res.Passed() || !slices.Equal(res.Actual, DefaultPipelineOrder) {
			t.Errorf("result for %s = %+v", res.Team, res)
		}
	}
}

func TestRun_CreationOrderIsRenderOrder(t *testing.T) {
	orders := [][]string{
		{"a", "b", "c"},
		{"c", "a", "b"},
		{"b", "c", "a"},
		{"solo"},
	}
	for _, order := range orders {
		t.Run(strings.Join(order, ","), func(t *testing.T) {
			f := newFixture()
			opts := f.options()
			opts.Scenarios = []Scenario{OrderingScenario(order)}
			r := newTestRunner(t, opts)

			rep, err := r.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !slices.Equal(rep.Results[0].Actual, order) {
				t.Errorf("Actual = %v, want %v", rep.Results[0].Actual, order)
			}
		})
	}
}

func TestRun_RenderedPermutationFails(t *testing.T) {
	f := newFixture()
	f.atc.render = func(names []string) []string {
		out := append([]string{}, names...)
		out[0], out[1] = out[1], out[0]
		return out
	}
	opts := f.options()
	opts.Scenarios = []Scenario{OrderingScenario([]string{"a", "b", "c"})}
	r := newTestRunner(t, opts)

	rep, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected assertion failure")
	}

	var mismatch *OrderMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want *OrderMismatchError", err)
	}
	if !slices.Equal(mismatch.Expected, []string{"a", "b", "c"}) || !slices.Equal(mismatch.Actual, []string{"b", "a", "c"}) {
		t.Errorf("mismatch = %+v", mismatch)
	}
	if mismatch.Diff == "" {
		t.Error("mismatch should carry a diff")
	}

	res := rep.Results[0]
	if res.ErrorKind != KindAssertion || res.State != StateFailed {
		t.Errorf("result = %+v", res)
	}
	if res.Diff != mismatch.Diff {
		t.Error("result diff should match the mismatch diff")
	}
}

func TestRun_FewerCardsTimesOutWithoutScraping(t *testing.T) {
	f := newFixture()
	f.atc.maxCards = 4
	r := newTestRunner(t, f.options())

	_, err := r.Run(context.Background())

	var timeout *RenderTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want *RenderTimeoutError", err)
	}
	if timeout.Selector != ".dashboard-pipeline:nth-child(5)" || timeout.Timeout != time.Second {
		t.Errorf("timeout = %+v", timeout)
	}
	if KindOf(err) != KindRenderTimeout {
		t.Errorf("kind = %q", KindOf(err))
	}
	if len(f.browser.scripts) != 0 {
		t.Errorf("scrape attempted after timeout: %q", f.browser.scripts)
	}
}

func TestRun_FixtureLoadFailureStopsCreation(t *testing.T) {
	f := newFixture()
	f.atc.failCommand = "-p third"
	r := newTestRunner(t, f.options())

	rep, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected fixture load failure")
	}

	res := rep.Results[0]
	if res.ErrorKind != KindFixtureLoad {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, KindFixtureLoad)
	}
	if len(f.fly.commands) != 3 {
		t.Errorf("fly commands = %q, want creation to stop at third", f.fly.commands)
	}
	if f.browser.team != "" {
		t.Error("browser should not log in after a fixture failure")
	}
}

func TestRun_CleanupFailureAbortsSuite(t *testing.T) {
	f := newFixture()
	f.atc.cleanupErr = errors.New("destroy-team: forbidden")
	var out bytes.Buffer
	opts := f.options()
	opts.Reporter = NewReporter(&out)
	r := newTestRunner(t, opts)

	rep, err := r.Run(context.Background())

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Kind != KindProvisioning || stepErr.State != StateSuiteStart {
		t.Fatalf("err = %v, want provisioning failure at suite start", err)
	}
	if !errors.Is(err, f.atc.cleanupErr) {
		t.Error("suite error should wrap the cleanup error")
	}
	if len(rep.Results) != 0 || f.atc.next != 0 {
		t.Errorf("scenarios ran after failed suite setup: %+v", rep.Results)
	}
	if rep.Passed() {
		t.Error("report should not pass")
	}
	if !strings.Contains(out.String(), "suite setup failed") {
		t.Errorf("reporter output = %q", out.String())
	}
}

func TestSetupScenario_Failures(t *testing.T) {
	tests := []struct {
		name      string
		breakIt   func(*fixture)
		wantKind  ErrorKind
		wantState State
	}{
		{"grab team", func(f *fixture) { f.atc.grabErr = errors.New("quota") }, KindProvisioning, StateSuiteStart},
		{"fly login", func(f *fixture) { f.fly.loginErr = errors.New("not authorized") }, KindAuthentication, StateTeamProvisioned},
		{"set pipeline", func(f *fixture) { f.atc.failCommand = "set-pipeline" }, KindFixtureLoad, StateAuthenticatedCLI},
		{"browser login", func(f *fixture) { f.browser.loginErr = errors.New("401") }, KindAuthentication, StatePipelinesCreated},
		{"navigate", func(f *fixture) { f.browser.navErr = errors.New("net::ERR_CONNECTION_REFUSED") }, KindNavigation, StateAuthenticatedBrowser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.breakIt(f)
			r := newTestRunner(t, f.options())

			sc, err := r.SetupScenario(context.Background(), OrderingScenario(DefaultPipelineOrder))
			if sc == nil {
				t.Fatal("SetupScenario returned nil context")
			}

			var stepErr *StepError
			if !errors.As(err, &stepErr) {
				t.Fatalf("err = %v, want *StepError", err)
			}
			if stepErr.Kind != tt.wantKind || stepErr.State != tt.wantState {
				t.Errorf("StepError = {%s %s}, want {%s %s}", stepErr.Kind, stepErr.State, tt.wantKind, tt.wantState)
			}
			if sc.State != StateFailed || sc.FailedIn != tt.wantState {
				t.Errorf("context state = %s (failed in %s)", sc.State, sc.FailedIn)
			}
		})
	}
}

func TestRunScenario_RequiresLoadedDashboard(t *testing.T) {
	f := newFixture()
	r := newTestRunner(t, f.options())

	sc := newContext(OrderingScenario(DefaultPipelineOrder), DefaultFixturePath)
	err := r.RunScenario(context.Background(), sc)

	var transErr *TransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("err = %v, want *TransitionError", err)
	}
	if len(f.browser.waited) != 0 {
		t.Error("RunScenario waited on a context that was never set up")
	}
}

func TestRunScenario_ScrapeFailure(t *testing.T) {
	f := newFixture()
	f.browser.scriptErr = errors.New("Runtime.evaluate: page crashed")
	r := newTestRunner(t, f.options())

	sc, err := r.SetupScenario(context.Background(), OrderingScenario(DefaultPipelineOrder))
	if err != nil {
		t.Fatal(err)
	}
	err = r.RunScenario(context.Background(), sc)
	if KindOf(err) != KindAssertion {
		t.Errorf("kind = %q, want %q", KindOf(err), KindAssertion)
	}
	if sc.Actual != nil {
		t.Errorf("Actual = %v, want nil", sc.Actual)
	}
}

func TestRun_ReorderScenario(t *testing.T) {
	f := newFixture()
	opts := f.options()
	opts.Scenarios = DefaultScenarios([]string{"a", "b", "c"}, true)
	r := newTestRunner(t, opts)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(rep.Results))
	}
	if !slices.Equal(rep.Results[1].Actual, []string{"c", "b", "a"}) {
		t.Errorf("reordered Actual = %v", rep.Results[1].Actual)
	}
	if !slices.Contains(f.fly.commands, "order-pipelines -p c -p b -p a") {
		t.Errorf("fly commands = %q", f.fly.commands)
	}
}

func TestRun_ReorderIgnoredByDashboardFails(t *testing.T) {
	f := newFixture()
	opts := f.options()
	opts.Scenarios = []Scenario{ReorderScenario([]string{"a", "b"})}
	r := newTestRunner(t, opts)

	// Render creation order regardless of order-pipelines.
	f.atc.render = func([]string) []string { return []string{"a", "b"} }

	_, err := r.Run(context.Background())
	if KindOf(err) != KindAssertion {
		t.Fatalf("err = %v, want assertion failure", err)
	}
}

func TestRun_RecordsResults(t *testing.T) {
	f := newFixture()
	f.atc.maxCards = 1
	rec := &fakeRecorder{}
	opts := f.options()
	opts.Recorder = rec
	opts.RunID = "run-1"
	r := newTestRunner(t, opts)

	_, _ = r.Run(context.Background())

	if len(rec.results) != 1 {
		t.Fatalf("recorded %d results, want 1", len(rec.results))
	}
	got := rec.results[0]
	if got.RunID != "run-1" || got.ErrorKind != string(KindRenderTimeout) || got.State != string(StateFailed) {
		t.Errorf("recorded = %+v", got)
	}
	if got.FinishedAt == nil || got.TeamName == "" {
		t.Errorf("recorded = %+v", got)
	}
}

func TestRun_CleanupAfterScenario(t *testing.T) {
	f := newFixture()
	opts := f.options()
	opts.CleanupAfterScenario = true
	r := newTestRunner(t, opts)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(f.atc.destroyed, []string{rep.Results[0].Team}) {
		t.Errorf("destroyed = %v", f.atc.destroyed)
	}
}

func TestRun_ScreenshotOnFailure(t *testing.T) {
	f := newFixture()
	f.atc.maxCards = 2
	dir := filepath.Join(t.TempDir(), "artifacts")
	opts := f.options()
	opts.ArtifactsDir = dir
	r := newTestRunner(t, opts)

	_, _ = r.Run(context.Background())

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading artifacts: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".png") {
		t.Errorf("artifacts = %v", entries)
	}
}

func TestRun_NoScreenshotBeforeBrowser(t *testing.T) {
	f := newFixture()
	f.fly.loginErr = errors.New("nope")
	opts := f.options()
	opts.ArtifactsDir = t.TempDir()
	r := newTestRunner(t, opts)

	_, _ = r.Run(context.Background())
	if f.browser.shots != 0 {
		t.Errorf("took %d screenshots for a fly failure", f.browser.shots)
	}
}

func TestRunScenarios_StopsWhenCancelled(t *testing.T) {
	f := newFixture()
	rec := &fakeRecorder{}
	opts := f.options()
	opts.Scenarios = DefaultScenarios(DefaultPipelineOrder, true)
	opts.Recorder = rec
	opts.RunID = "run-1"
	r := newTestRunner(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := r.RunScenarios(ctx)
	if len(f.fly.commands) != 0 {
		t.Errorf("ran fly commands on a cancelled context: %v", f.fly.commands)
	}
	if len(rep.Results) != 2 || rep.Failed() != 2 {
		t.Fatalf("results = %d, failed = %d, want 2 skipped scenarios", len(rep.Results), rep.Failed())
	}
	for _, res := range rep.Results {
		if res.State != StateFailed || res.ErrorKind != KindCancelled {
			t.Errorf("%s: state %s kind %q, want Failed/%s", res.Scenario, res.State, res.ErrorKind, KindCancelled)
		}
	}
	if err := rep.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("rep.Err() = %v, want context.Canceled", err)
	}
	if rep.Passed() {
		t.Error("interrupted report passed")
	}
	if len(rec.results) != 2 {
		t.Errorf("recorded %d results, want 2", len(rec.results))
	}
}

func TestRun_InterruptedAfterSetupFails(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.atc.onCleanup = cancel

	r := newTestRunner(t, f.options())
	rep, err := r.Run(ctx)
	if err == nil {
		t.Fatal("Run returned nil for an interrupted suite")
	}
	if KindOf(err) != KindCancelled {
		t.Errorf("KindOf(err) = %q, want %s", KindOf(err), KindCancelled)
	}
	if rep.Passed() || len(rep.Results) != 1 {
		t.Errorf("passed = %v, results = %d", rep.Passed(), len(rep.Results))
	}
}

func TestRun_ReporterOutput(t *testing.T) {
	f := newFixture()
	var out bytes.Buffer
	opts := f.options()
	opts.Reporter = NewReporter(&out)
	r := newTestRunner(t, opts)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"shows pipelines in their correct order",
		"[1] grabbing a new team",
		"fly set-pipeline -n -p fifth -c fixtures/states-pipeline.yml",
		"wait for .dashboard-pipeline:nth-child(5)",
		"1 passed, 0 failed",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("reporter output missing %q:\n%s", want, out.String())
		}
	}
}
