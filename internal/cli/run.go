package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/wats/internal/browser"
	"github.com/Dicklesworthstone/wats/internal/config"
	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/output"
	"github.com/Dicklesworthstone/wats/internal/scenario"
	"github.com/Dicklesworthstone/wats/internal/watch"
)

var (
	flagRunParallel  int
	flagRunWatch     bool
	flagRunHeaded    bool
	flagRunNoReorder bool
	flagRunCleanup   bool
)

// dashboardBrowser is what a runner needs from a launched browser.
type dashboardBrowser interface {
	scenario.Browser
	scenario.Screenshotter
	Close() error
}

// launchBrowser starts one browser per runner. Tests replace it.
var launchBrowser = func(ctx context.Context, opts browser.Options) (dashboardBrowser, error) {
	return browser.New(ctx, opts)
}

// browserLaunchTimeout bounds starting Chrome.
const browserLaunchTimeout = time.Minute

func init() {
	runCmd.Flags().IntVarP(&flagRunParallel, "parallel", "p", 0, "number of suites to run side by side (default scenario.parallel)")
	runCmd.Flags().BoolVarP(&flagRunWatch, "watch", "w", false, "rerun when the pipeline fixture or config changes")
	runCmd.Flags().BoolVar(&flagRunHeaded, "headed", false, "show the browser window")
	runCmd.Flags().BoolVar(&flagRunNoReorder, "no-reorder", false, "skip the reordered pipelines scenario")
	runCmd.Flags().BoolVar(&flagRunCleanup, "cleanup", false, "destroy each scenario's team when it finishes")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dashboard ordering scenarios",
	Long: `Run the dashboard ordering scenarios against the configured ATC.

The suite first destroys every leftover test team. Each scenario then
provisions its own team, creates the configured pipelines with
'fly set-pipeline', logs a browser in and checks the dashboard shows the
pipeline cards in creation order. With scenario.reorder enabled a second
scenario reorders the pipelines with 'fly order-pipelines' and checks the
dashboard follows.

--parallel N runs N independent suites at once, each with its own browser
and teams. --watch reruns the suite whenever the pipeline fixture or the
config file changes, until interrupted.

Exits non-zero if any scenario fails.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if !output.Format(GetOutput()).Valid() {
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	if flagRunWatch {
		return watchSuite(ctx, cfg, logger)
	}

	rep, err := runSuite(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return writeReport(rep)
}

// loadRunConfig loads the config and applies the run flags.
func loadRunConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if flagRunParallel > 0 {
		cfg.Scenario.Parallel = flagRunParallel
	}
	if flagRunHeaded {
		cfg.Browser.Headless = false
	}
	if flagRunNoReorder {
		cfg.Scenario.Reorder = false
	}
	if flagRunCleanup {
		cfg.Teams.CleanupAfterScenario = true
	}
	return cfg, nil
}

// runSuite records a run in the ledger, cleans up leftover teams once and
// runs cfg.Scenario.Parallel runners side by side. The returned error is
// for failures outside the scenarios; scenario failures are in the report.
func runSuite(ctx context.Context, cfg *config.Config, logger *log.Logger) (*scenario.Report, error) {
	if _, err := os.Stat(cfg.Fixtures.Pipeline); err != nil {
		return nil, fmt.Errorf("pipeline fixture: %w", err)
	}

	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	run := &db.Run{ATCURL: cfg.ATC.URL}
	if err := ledger.CreateRun(run); err != nil {
		return nil, err
	}
	logger = logger.With("run", run.ID)

	rep, err := runRunners(ctx, cfg, ledger, run.ID, logger)
	runErr := err
	if runErr == nil {
		runErr = rep.Err()
	}
	if ferr := ledger.FinishRun(run.ID, runErr); ferr != nil {
		logger.Warn("could not finish run in ledger", "err", ferr)
	}
	return rep, err
}

func runRunners(ctx context.Context, cfg *config.Config, ledger *db.DB, runID string, logger *log.Logger) (*scenario.Report, error) {
	client, err := newFlyClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	teams, err := newProvisioner(cfg, client, ledger, runID, logger)
	if err != nil {
		return nil, err
	}

	var reporter *scenario.Reporter
	if GetOutput() == string(output.FormatText) {
		reporter = scenario.NewReporter(os.Stdout)
	}

	browsers, err := launchBrowsers(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, b := range browsers {
			if cerr := b.Close(); cerr != nil {
				logger.Warn("closing browser", "err", cerr)
			}
		}
	}()

	runners := make([]*scenario.Runner, len(browsers))
	for i, b := range browsers {
		runners[i], err = scenario.NewRunner(scenario.Options{
			Teams:                teams,
			Fly:                  client,
			Browser:              b,
			Scenarios:            scenario.DefaultScenarios(cfg.Scenario.Pipelines, cfg.Scenario.Reorder),
			FixturePath:          cfg.Fixtures.Pipeline,
			WaitTimeout:          cfg.Scenario.WaitTimeout(),
			CleanupAfterScenario: cfg.Teams.CleanupAfterScenario,
			ArtifactsDir:         cfg.Browser.ArtifactsDir,
			Recorder:             ledger,
			RunID:                runID,
			Reporter:             reporter,
			Logger:               logger.With("suite", i+1),
		})
		if err != nil {
			return nil, err
		}
	}

	started := time.Now()
	if err := client.LoginAs(ctx, client.AdminTeam()); err != nil {
		rep := scenario.SuiteFailure(runID, started, &scenario.StepError{
			Kind:  scenario.KindAuthentication,
			State: scenario.StateSuiteStart,
			Err:   fmt.Errorf("admin login: %w", err),
		})
		reporter.Summary(rep)
		return rep, nil
	}
	if err := runners[0].SetupSuite(ctx); err != nil {
		rep := scenario.SuiteFailure(runID, started, err)
		reporter.Summary(rep)
		return rep, nil
	}

	reports := make([]*scenario.Report, len(runners))
	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = r.RunScenarios(ctx)
		}()
	}
	wg.Wait()

	rep := &scenario.Report{RunID: runID, StartedAt: started}
	for _, r := range reports {
		rep.Merge(r)
	}
	reporter.Summary(rep)
	return rep, nil
}

// launchBrowsers starts one browser per parallel suite. If any launch
// fails the others are closed.
func launchBrowsers(ctx context.Context, cfg *config.Config, tokens browser.TokenSource, logger *log.Logger) ([]dashboardBrowser, error) {
	launchCtx, cancel := context.WithTimeout(ctx, browserLaunchTimeout)
	defer cancel()

	browsers := make([]dashboardBrowser, cfg.Scenario.Parallel)
	g, gctx := errgroup.WithContext(launchCtx)
	for i := range browsers {
		g.Go(func() error {
			b, err := launchBrowser(gctx, browser.Options{
				ATCURL:           cfg.ATC.URL,
				Headless:         cfg.Browser.Headless,
				ExecPath:         cfg.Browser.ExecPath,
				WindowWidth:      cfg.Browser.WindowWidth,
				WindowHeight:     cfg.Browser.WindowHeight,
				LoginMode:        cfg.Browser.LoginMode,
				Tokens:           tokens,
				Username:         cfg.ATC.Username,
				Password:         cfg.ATC.Password,
				UsernameSelector: cfg.Browser.UsernameSelector,
				PasswordSelector: cfg.Browser.PasswordSelector,
				SubmitSelector:   cfg.Browser.SubmitSelector,
				Logger:           logger.With("browser", i+1),
			})
			if err != nil {
				return err
			}
			browsers[i] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, b := range browsers {
			if b != nil {
				b.Close()
			}
		}
		return nil, err
	}
	return browsers, nil
}

// watchSuite runs the suite, then again on every fixture or config change.
func watchSuite(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	paths := []string{cfg.Fixtures.Pipeline}
	if flagConfig != "" {
		paths = append(paths, flagConfig)
	} else if _, err := os.Stat(config.ProjectFile(".")); err == nil {
		paths = append(paths, config.ProjectFile("."))
	}

	w, err := watch.NewWatcher(paths...)
	if err != nil {
		return err
	}
	w.SetLogger(logger)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	for {
		rep, err := runSuite(ctx, cfg, logger)
		if err != nil {
			logger.Error("suite run failed", "err", err)
		} else if werr := printReport(rep); werr != nil {
			return werr
		}

		logger.Info("watching for changes", "paths", paths)
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			logger.Info("change detected, rerunning", "path", ev.Path, "op", ev.Op.String())
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("watching files: %w", err)
		}

		next, err := loadRunConfig()
		if err != nil {
			logger.Error("config invalid, keeping the previous one", "err", err)
			continue
		}
		cfg = next
	}
}

// writeReport prints rep and returns its error.
func writeReport(rep *scenario.Report) error {
	if err := printReport(rep); err != nil {
		return err
	}
	return rep.Err()
}

// printReport prints rep in the selected format. Text output was already
// streamed by the reporter.
func printReport(rep *scenario.Report) error {
	switch GetOutput() {
	case "json", "yaml":
		out := output.New(output.Format(GetOutput()))
		return out.Write(rep)
	case "text":
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}
