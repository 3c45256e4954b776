// Package harness provides the E2E test environment: real fly, team and
// browser adapters pointed at a live ATC, configured from WATS_* variables.
package harness

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dicklesworthstone/wats/internal/browser"
	"github.com/Dicklesworthstone/wats/internal/config"
	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/fly"
	"github.com/Dicklesworthstone/wats/internal/logging"
	"github.com/Dicklesworthstone/wats/internal/scenario"
	"github.com/Dicklesworthstone/wats/internal/team"
)

// DefaultTimeout bounds a whole E2E test.
const DefaultTimeout = 5 * time.Minute

// ATCEnv names the variable that enables the E2E tests.
const ATCEnv = "WATS_ATC_URL"

// fixturePipeline is written when WATS_FIXTURES_PIPELINE is unset.
const fixturePipeline = `---
jobs:
- name: passing
  plan:
  - task: pass
    config:
      platform: linux
      image_resource:
        type: registry-image
        source: {repository: busybox}
      run: {path: "true"}
`

// Environment is a live ATC with the adapters wats drives it through.
//
// It provides:
//   - a temp project directory holding the ledger, fixture and fly HOME
//   - a fly client and team provisioner tied to one ledger run
//   - a headless Chrome
//   - step logging for debugging
type Environment struct {
	T *testing.T

	// ProjectDir holds state.db, the fixture, artifacts and .flyrc.
	ProjectDir string

	Config  *config.Config
	Ledger  *db.DB
	RunID   string
	Fly     *fly.Client
	Teams   *team.Provisioner
	Browser *browser.Browser

	Logger *StepLogger

	ctx       context.Context
	stepCount atomic.Int32
	startTime time.Time
}

// NewEnvironment builds an Environment, skipping the test when no ATC is
// configured or -short is set. Everything is torn down via t.Cleanup.
func NewEnvironment(t *testing.T) *Environment {
	t.Helper()

	if os.Getenv(ATCEnv) == "" {
		t.Skipf("E2E: %s not set", ATCEnv)
	}
	if testing.Short() {
		t.Skip("E2E: skipped in short mode")
	}

	projectDir := t.TempDir()
	cfg, err := LoadConfig(projectDir)
	if err != nil {
		t.Fatalf("E2E: loading config: %v", err)
	}

	stepLogger := NewStepLogger(t)
	logger, err := logging.New(stepLogger, logging.Options{
		Level:  cfg.Logging.Level,
		Format: "logfmt",
	})
	if err != nil {
		t.Fatalf("E2E: creating logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)

	ledger, err := db.Open(cfg.Ledger.Path)
	if err != nil {
		t.Fatalf("E2E: opening ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })

	run := &db.Run{ATCURL: cfg.ATC.URL}
	if err := ledger.CreateRun(run); err != nil {
		t.Fatalf("E2E: creating run: %v", err)
	}
	t.Cleanup(func() {
		var runErr error
		if t.Failed() {
			runErr = errTestFailed
		}
		_ = ledger.FinishRun(run.ID, runErr)
	})

	client, err := fly.New(fly.Options{
		Binary:       cfg.Fly.Binary,
		ATCURL:       cfg.ATC.URL,
		AdminTeam:    cfg.ATC.AdminTeam,
		Username:     cfg.ATC.Username,
		Password:     cfg.ATC.Password,
		TargetPrefix: cfg.Fly.TargetPrefix,
		Home:         cfg.Fly.Home,
		Timeout:      cfg.Fly.CommandTimeout(),
		Logger:       logger,
	})
	if err != nil {
		t.Skipf("E2E: fly unavailable: %v", err)
	}
	if err := client.LoginAs(ctx, client.AdminTeam()); err != nil {
		t.Fatalf("E2E: admin login: %v", err)
	}

	teams, err := team.New(client, team.Options{
		Prefix:    cfg.Teams.Prefix,
		AdminTeam: cfg.ATC.AdminTeam,
		ATCURL:    cfg.ATC.URL,
		Ledger:    ledger,
		RunID:     run.ID,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("E2E: creating provisioner: %v", err)
	}

	b, err := browser.New(ctx, browser.Options{
		ATCURL:           cfg.ATC.URL,
		Headless:         cfg.Browser.Headless,
		ExecPath:         cfg.Browser.ExecPath,
		WindowWidth:      cfg.Browser.WindowWidth,
		WindowHeight:     cfg.Browser.WindowHeight,
		LoginMode:        cfg.Browser.LoginMode,
		Tokens:           client,
		Username:         cfg.ATC.Username,
		Password:         cfg.ATC.Password,
		UsernameSelector: cfg.Browser.UsernameSelector,
		PasswordSelector: cfg.Browser.PasswordSelector,
		SubmitSelector:   cfg.Browser.SubmitSelector,
		Logger:           logger,
	})
	if err != nil {
		t.Skipf("E2E: chrome unavailable: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	env := &Environment{
		T:          t,
		ProjectDir: projectDir,
		Config:     cfg,
		Ledger:     ledger,
		RunID:      run.ID,
		Fly:        client,
		Teams:      teams,
		Browser:    b,
		Logger:     stepLogger,
		ctx:        ctx,
		startTime:  time.Now(),
	}

	stepLogger.Info("E2E environment for %s at %s (run %s)", cfg.ATC.URL, projectDir, run.ID)
	return env
}

// LoadConfig reads the wats configuration from WATS_CONFIG and WATS_*
// variables, then points every local path into projectDir. The fixture is
// written there unless WATS_FIXTURES_PIPELINE names one, and fly gets
// projectDir as HOME unless WATS_FLY_HOME is set.
func LoadConfig(projectDir string) (*config.Config, error) {
	v, err := config.New(os.Getenv("WATS_CONFIG"))
	if err != nil {
		return nil, err
	}

	v.Set("ledger.path", filepath.Join(projectDir, "state.db"))
	v.Set("browser.artifacts_dir", filepath.Join(projectDir, "artifacts"))

	if _, ok := os.LookupEnv("WATS_FLY_HOME"); !ok {
		v.Set("fly.home", projectDir)
	}
	if _, ok := os.LookupEnv("WATS_FIXTURES_PIPELINE"); !ok {
		path := filepath.Join(projectDir, "fixtures", "states-pipeline.yml")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(fixturePipeline), 0644); err != nil {
			return nil, err
		}
		v.Set("fixtures.pipeline", path)
	}

	return config.Load(v)
}

// Context returns the context bounding the test.
func (env *Environment) Context() context.Context {
	return env.ctx
}

// Runner returns a scenario runner over the environment's adapters. With
// no scenarios it runs the ordering scenario over the configured pipelines.
func (env *Environment) Runner(scenarios ...scenario.Scenario) *scenario.Runner {
	env.T.Helper()

	if len(scenarios) == 0 {
		scenarios = []scenario.Scenario{scenario.OrderingScenario(env.Config.Scenario.Pipelines)}
	}

	logger, _ := logging.New(env.Logger, logging.Options{Level: env.Config.Logging.Level, Format: "logfmt"})
	r, err := scenario.NewRunner(scenario.Options{
		Teams:                env.Teams,
		Fly:                  env.Fly,
		Browser:              env.Browser,
		Scenarios:            scenarios,
		FixturePath:          env.Config.Fixtures.Pipeline,
		WaitTimeout:          env.Config.Scenario.WaitTimeout(),
		CleanupAfterScenario: env.Config.Teams.CleanupAfterScenario,
		ArtifactsDir:         env.Config.Browser.ArtifactsDir,
		Recorder:             env.Ledger,
		RunID:                env.RunID,
		Reporter:             scenario.NewReporter(env.Logger),
		Logger:               logger,
	})
	if err != nil {
		env.T.Fatalf("E2E: creating runner: %v", err)
	}
	return r
}

// Step logs a test step with automatic numbering.
func (env *Environment) Step(format string, args ...any) {
	env.T.Helper()
	step := env.stepCount.Add(1)
	env.Logger.Step(int(step), format, args...)
}

// Result logs a step result.
func (env *Environment) Result(format string, args ...any) {
	env.T.Helper()
	env.Logger.Result(format, args...)
}

// LedgerState logs the ledger's view of this run.
func (env *Environment) LedgerState() {
	env.T.Helper()

	results, _ := env.Ledger.ListScenarioResults(env.RunID)
	leaked, _ := env.Ledger.ListLeakedTeams(env.Config.ATC.URL, "")
	env.Logger.LedgerState(len(results), len(leaked))
}

// Elapsed returns time since environment creation.
func (env *Environment) Elapsed() time.Duration {
	return time.Since(env.startTime)
}
