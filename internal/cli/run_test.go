package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/wats/internal/browser"
	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/logging"
	"github.com/Dicklesworthstone/wats/internal/scenario"
	"github.com/Dicklesworthstone/wats/internal/testutil"
)

func runTestSuite(t *testing.T) (*scenario.Report, error) {
	t.Helper()
	cfg, err := loadRunConfig()
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	return runSuite(context.Background(), cfg, logging.Discard())
}

func countCalls(h *testutil.Harness, substr string) int {
	n := 0
	for _, line := range h.Fly.CallLines() {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestRunSuite_Passes(t *testing.T) {
	h := newProject(t)
	dashboards := useFakeDashboards(t, h, nil)

	rep, err := runTestSuite(t)
	if err != nil {
		t.Fatalf("runSuite: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("report failed: %v", rep.Err())
	}
	if len(rep.Results) != 2 {
		t.Fatalf("got %d results, want ordering and reorder scenarios", len(rep.Results))
	}
	if got := rep.Results[1].Expected; strings.Join(got, ",") != "fifth,fourth,third,second,first" {
		t.Errorf("reorder scenario expected %v", got)
	}

	if n := countCalls(h, "set-pipeline -n -p"); n != 10 {
		t.Errorf("set-pipeline calls = %d, want 10", n)
	}
	if n := countCalls(h, "teams --json"); n != 1 {
		t.Errorf("cleanup listed teams %d times, want once", n)
	}
	if n := countCalls(h, "-t wats-main login"); n != 1 {
		t.Errorf("admin logins = %d, want 1", n)
	}

	if len(*dashboards) != 1 || !(*dashboards)[0].closed {
		t.Fatalf("want one browser launched and closed, got %+v", *dashboards)
	}

	runs, err := h.DB.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != db.RunPassed {
		t.Fatalf("runs = %+v, want one passed run", runs)
	}
	results, err := h.DB.ListScenarioResults(runs[0].ID)
	if err != nil {
		t.Fatalf("ListScenarioResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("recorded %d results, want 2", len(results))
	}
}

func TestRunSuite_CreatesPipelinesInOrder(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, nil)
	flagRunNoReorder = true

	if _, err := runTestSuite(t); err != nil {
		t.Fatalf("runSuite: %v", err)
	}

	var created []string
	for _, call := range h.Fly.Calls() {
		if len(call) > 2 && call[2] == "set-pipeline" {
			created = append(created, flagValue(call, "-p"))
			if c := flagValue(call, "-c"); c != testutil.FixturePipeline {
				t.Errorf("set-pipeline config = %q", c)
			}
		}
	}
	if got := strings.Join(created, ","); got != "first,second,third,fourth,fifth" {
		t.Fatalf("created %s", got)
	}
}

func TestRunSuite_OrderMismatchFails(t *testing.T) {
	h := newProject(t)
	dashboards := useFakeDashboards(t, h, func(d *fakeDashboard) { d.reversed = true })
	flagRunNoReorder = true

	rep, err := runTestSuite(t)
	if err != nil {
		t.Fatalf("runSuite: %v", err)
	}
	if rep.Passed() {
		t.Fatal("expected the suite to fail")
	}

	var mismatch *scenario.OrderMismatchError
	if !errors.As(rep.Err(), &mismatch) {
		t.Fatalf("error = %v, want OrderMismatchError", rep.Err())
	}
	if rep.Results[0].ErrorKind != scenario.KindAssertion {
		t.Errorf("error kind = %s", rep.Results[0].ErrorKind)
	}
	if err := writeReport(rep); err == nil {
		t.Error("writeReport should return the scenario failure")
	}

	runs, _ := h.DB.ListRuns(0)
	if len(runs) != 1 || runs[0].Status != db.RunFailed {
		t.Fatalf("runs = %+v, want one failed run", runs)
	}

	if (*dashboards)[0].shots != 1 {
		t.Errorf("screenshots = %d, want 1", (*dashboards)[0].shots)
	}
	shots, _ := filepath.Glob(filepath.Join(h.ProjectDir, ".wats", "artifacts", "*.png"))
	if len(shots) != 1 {
		t.Errorf("artifacts = %v, want one screenshot", shots)
	}
}

func TestRunSuite_Parallel(t *testing.T) {
	h := newProject(t)
	dashboards := useFakeDashboards(t, h, nil)
	flagRunParallel = 3

	rep, err := runTestSuite(t)
	if err != nil {
		t.Fatalf("runSuite: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("report failed: %v", rep.Err())
	}
	if len(rep.Results) != 6 {
		t.Fatalf("got %d results, want 6", len(rep.Results))
	}
	if len(*dashboards) != 3 {
		t.Fatalf("launched %d browsers, want 3", len(*dashboards))
	}
	if n := countCalls(h, "teams --json"); n != 1 {
		t.Errorf("cleanup listed teams %d times, want once", n)
	}

	teams := map[string]bool{}
	for _, res := range rep.Results {
		if teams[res.Team] {
			t.Errorf("team %s used twice", res.Team)
		}
		teams[res.Team] = true
	}
}

func TestRunSuite_CleanupFailureAbortsSuite(t *testing.T) {
	h := newProjectWithTeams(t, `[{"id":1,"name":"main"},{"id":2,"name":"wats-team-old"}]`)
	useFakeDashboards(t, h, nil)
	h.Fly.On(testutil.FlyRule{Match: "destroy-team", Stderr: "forbidden", ExitCode: 1})

	rep, err := runTestSuite(t)
	if err != nil {
		t.Fatalf("runSuite: %v", err)
	}
	if rep.SuiteError == "" {
		t.Fatal("expected a suite error")
	}
	if len(rep.Results) != 0 {
		t.Errorf("ran %d scenarios after failed cleanup", len(rep.Results))
	}
	if scenario.KindOf(rep.Err()) != scenario.KindProvisioning {
		t.Errorf("kind = %s", scenario.KindOf(rep.Err()))
	}
	if n := countCalls(h, "set-team"); n != 0 {
		t.Errorf("set-team called %d times", n)
	}
}

func TestRunSuite_AdminLoginFailure(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, nil)
	h.Fly.On(testutil.FlyRule{Match: "-t wats-main login", Stderr: "not authorized", ExitCode: 1})

	rep, err := runTestSuite(t)
	if err != nil {
		t.Fatalf("runSuite: %v", err)
	}
	if scenario.KindOf(rep.Err()) != scenario.KindAuthentication {
		t.Fatalf("error = %v, want authentication failure", rep.Err())
	}
	if !strings.Contains(rep.SuiteError, "not authorized") {
		t.Errorf("suite error = %q", rep.SuiteError)
	}
}

func TestRunSuite_BrowserLaunchFailure(t *testing.T) {
	h := newProject(t)
	orig := launchBrowser
	launchBrowser = func(ctx context.Context, opts browser.Options) (dashboardBrowser, error) {
		return nil, errors.New("no chrome")
	}
	t.Cleanup(func() { launchBrowser = orig })

	_, err := runTestSuite(t)
	if err == nil || !strings.Contains(err.Error(), "no chrome") {
		t.Fatalf("err = %v, want launch failure", err)
	}

	runs, _ := h.DB.ListRuns(0)
	if len(runs) != 1 || runs[0].Status != db.RunFailed {
		t.Fatalf("runs = %+v, want the run marked failed", runs)
	}
}

func TestRunSuite_MissingFixture(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, nil)
	if err := os.Remove(h.MustPath(testutil.FixturePipeline)); err != nil {
		t.Fatal(err)
	}

	if _, err := runTestSuite(t); err == nil || !strings.Contains(err.Error(), "pipeline fixture") {
		t.Fatalf("err = %v, want missing fixture error", err)
	}
	if len(h.Fly.Calls()) != 0 {
		t.Error("fly should not run without a fixture")
	}
}

func TestRunSuite_CleanupAfterScenario(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, nil)
	flagRunCleanup = true

	rep, err := runTestSuite(t)
	if err != nil {
		t.Fatalf("runSuite: %v", err)
	}
	for _, res := range rep.Results {
		if n := countCalls(h, "destroy-team -n "+res.Team); n != 1 {
			t.Errorf("team %s destroyed %d times, want 1", res.Team, n)
		}
	}

	leaked, err := h.DB.ListLeakedTeams("http://atc.test:8080", "")
	if err != nil {
		t.Fatalf("ListLeakedTeams: %v", err)
	}
	if len(leaked) != 0 {
		t.Errorf("leaked teams = %d, want 0", len(leaked))
	}
}

func TestRunCommand_JSONOutput(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, nil)
	flagJSON = true

	out, err := captureStdout(t, func() error { return runRun(nil, nil) })
	if err != nil {
		t.Fatalf("runRun: %v", err)
	}
	for _, want := range []string{`"results"`, `"shows pipelines in their correct order"`, `"state": "Done"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestRunCommand_TextOutput(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, func(d *fakeDashboard) { d.reversed = true })
	flagRunNoReorder = true

	out, err := captureStdout(t, func() error { return runRun(nil, nil) })
	if err == nil {
		t.Fatal("expected the mismatch to fail the command")
	}
	if !strings.Contains(out, "shows pipelines in their correct order") || !strings.Contains(out, "1 failed") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestRunCommand_UnsupportedOutput(t *testing.T) {
	h := newProject(t)
	useFakeDashboards(t, h, nil)
	flagOutput = "xml"

	if err := runRun(nil, nil); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("err = %v", err)
	}
	if len(h.Fly.Calls()) != 0 {
		t.Error("no fly calls expected for a bad output format")
	}
}

func TestLoadRunConfig_Flags(t *testing.T) {
	newProject(t)
	flagRunParallel = 4
	flagRunHeaded = true
	flagRunNoReorder = true
	flagRunCleanup = true

	cfg, err := loadRunConfig()
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	if cfg.Scenario.Parallel != 4 || cfg.Browser.Headless || cfg.Scenario.Reorder || !cfg.Teams.CleanupAfterScenario {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}
