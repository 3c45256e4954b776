package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/wats/internal/browser"
	"github.com/Dicklesworthstone/wats/internal/testutil"
)

// adminTeams is what the fake fly answers to `teams --json`.
const adminTeams = `[{"id":1,"name":"main"}]`

func resetFlags() {
	flagConfig = ""
	flagDB = ""
	flagOutput = "text"
	flagJSON = false
	flagLogLevel = ""
	flagATC = ""
	flagInitForce = false
	flagRunParallel = 0
	flagRunWatch = false
	flagRunHeaded = false
	flagRunNoReorder = false
	flagRunCleanup = false
	flagRunsLimit = 20
}

// newProject chdirs into a fresh harness and points wats at its fake fly,
// which reports only the admin team.
func newProject(t *testing.T) *testutil.Harness {
	t.Helper()
	return newProjectWithTeams(t, adminTeams)
}

// newProjectWithTeams is newProject with teamsJSON as the ATC's teams.
func newProjectWithTeams(t *testing.T, teamsJSON string) *testutil.Harness {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	h := testutil.NewHarness(t)
	t.Chdir(h.ProjectDir)
	t.Setenv("WATS_FLY_BINARY", h.Fly.Path)
	t.Setenv("WATS_ATC_URL", "http://atc.test:8080")
	t.Setenv("WATS_LOGGING_LEVEL", "error")
	h.Fly.On(testutil.FlyRule{Match: "teams --json", Stdout: teamsJSON})
	return h
}

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	runErr := fn()

	os.Stdout = orig
	w.Close()
	<-done
	r.Close()
	return buf.String(), runErr
}

// fakeDashboard renders the pipelines the fake fly saw for the logged in
// team, in creation order, or in the last order-pipelines order.
type fakeDashboard struct {
	fly *testutil.FakeFly

	mu       sync.Mutex
	team     string
	pages    []string
	reversed bool
	shots    int
	closed   bool
}

func (d *fakeDashboard) LoginAs(ctx context.Context, team string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.team = team
	return nil
}

func (d *fakeDashboard) AmOnPage(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages = append(d.pages, path)
	return nil
}

func (d *fakeDashboard) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (d *fakeDashboard) ExecuteScript(ctx context.Context, script string, result any) error {
	out, ok := result.(*[]string)
	if !ok {
		return errors.New("fake dashboard only scrapes names")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	names := d.rendered("wats-" + d.team)
	if d.reversed {
		slices.Reverse(names)
	}
	*out = names
	return nil
}

func (d *fakeDashboard) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++
	return []byte("\x89PNG"), nil
}

func (d *fakeDashboard) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDashboard) rendered(target string) []string {
	var names []string
	for _, call := range d.fly.Calls() {
		if len(call) < 3 || call[0] != "-t" || call[1] != target {
			continue
		}
		switch call[2] {
		case "set-pipeline":
			if name := flagValue(call, "-p"); name != "" && !slices.Contains(names, name) {
				names = append(names, name)
			}
		case "order-pipelines":
			var ordered []string
			for i := 3; i+1 < len(call); i += 2 {
				if call[i] == "-p" {
					ordered = append(ordered, call[i+1])
				}
			}
			names = ordered
		}
	}
	return names
}

func flagValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// useFakeDashboards swaps launchBrowser for one returning fake dashboards.
func useFakeDashboards(t *testing.T, h *testutil.Harness, mutate func(*fakeDashboard)) *[]*fakeDashboard {
	t.Helper()

	var mu sync.Mutex
	launched := &[]*fakeDashboard{}
	orig := launchBrowser
	launchBrowser = func(ctx context.Context, opts browser.Options) (dashboardBrowser, error) {
		d := &fakeDashboard{fly: h.Fly}
		if mutate != nil {
			mutate(d)
		}
		mu.Lock()
		*launched = append(*launched, d)
		mu.Unlock()
		return d, nil
	}
	t.Cleanup(func() { launchBrowser = orig })
	return launched
}
