package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/wats/internal/db"
)

// fakeATC stands in for the ATC: it keeps each team's pipelines in order and
// renders them for fakeBrowser.
type fakeATC struct {
	mu        sync.Mutex
	teams     map[string][]string
	next      int
	cleanups  int
	destroyed []string

	cleanupErr  error
	onCleanup   func()
	grabErr     error
	failCommand string
	// render maps the stored order to the rendered one. nil renders as stored.
	render func([]string) []string
	// maxCards caps the rendered cards. Zero means no cap.
	maxCards int
}

func newFakeATC() *fakeATC {
	return &fakeATC{teams: map[string][]string{}}
}

func (a *fakeATC) CleanUpTestTeams(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups++
	if a.onCleanup != nil {
		a.onCleanup()
	}
	return a.cleanupErr
}

func (a *fakeATC) GrabANewTeam(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grabErr != nil {
		return "", a.grabErr
	}
	a.next++
	name := fmt.Sprintf("wats-team-%d", a.next)
	a.teams[name] = nil
	return name, nil
}

func (a *fakeATC) DestroyTeam(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.teams, name)
	a.destroyed = append(a.destroyed, name)
	return nil
}

func (a *fakeATC) rendered(team string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := append([]string{}, a.teams[team]...)
	if a.render != nil {
		names = a.render(names)
	}
	if a.maxCards > 0 && len(names) > a.maxCards {
		names = names[:a.maxCards]
	}
	return names
}

type fakeFly struct {
	atc      *fakeATC
	loginErr error
	logins   []string
	commands []string
}

func (f *fakeFly) LoginAs(ctx context.Context, team string) error {
	f.logins = append(f.logins, team)
	return f.loginErr
}

func (f *fakeFly) Fly(ctx context.Context, team, command string) error {
	f.commands = append(f.commands, command)
	if f.atc.failCommand != "" && strings.Contains(command, f.atc.failCommand) {
		return errors.New("fly: exit code 1: error: invalid pipeline config")
	}

	args := strings.Fields(command)
	var names []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-p" {
			names = append(names, args[i+1])
		}
	}

	f.atc.mu.Lock()
	defer f.atc.mu.Unlock()
	switch args[0] {
	case "set-pipeline":
		f.atc.teams[team] = append(f.atc.teams[team], names[0])
	case "order-pipelines":
		f.atc.teams[team] = names
	default:
		return fmt.Errorf("unknown fly command %q", args[0])
	}
	return nil
}

type fakeBrowser struct {
	atc       *fakeATC
	team      string
	page      string
	loginErr  error
	navErr    error
	scriptErr error
	waited    []string
	scripts   []string
	shots     int
}

func (b *fakeBrowser) LoginAs(ctx context.Context, team string) error {
	if b.loginErr != nil {
		return b.loginErr
	}
	b.team = team
	return nil
}

func (b *fakeBrowser) AmOnPage(ctx context.Context, path string) error {
	if b.navErr != nil {
		return b.navErr
	}
	b.page = path
	return nil
}

func (b *fakeBrowser) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	b.waited = append(b.waited, selector)

	var n int
	if _, err := fmt.Sscanf(selector, PipelineCardSelector+":nth-child(%d)", &n); err != nil {
		return fmt.Errorf("unsupported selector %q", selector)
	}
	if b.page != DashboardPath || len(b.atc.rendered(b.team)) < n {
		return fmt.Errorf("waiting for %s: %w", selector, context.DeadlineExceeded)
	}
	return nil
}

func (b *fakeBrowser) ExecuteScript(ctx context.Context, script string, result any) error {
	b.scripts = append(b.scripts, script)
	if b.scriptErr != nil {
		return b.scriptErr
	}
	if script != ScrapeNamesScript {
		return fmt.Errorf("unexpected script %q", script)
	}
	data, err := json.Marshal(b.atc.rendered(b.team))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (b *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	b.shots++
	return []byte("\x89PNG"), nil
}

type fakeRecorder struct {
	results []*db.ScenarioResult
}

func (r *fakeRecorder) SaveScenarioResult(res *db.ScenarioResult) error {
	r.results = append(r.results, res)
	return nil
}

type fixture struct {
	atc     *fakeATC
	fly     *fakeFly
	browser *fakeBrowser
}

func newFixture() *fixture {
	atc := newFakeATC()
	return &fixture{
		atc:     atc,
		fly:     &fakeFly{atc: atc},
		browser: &fakeBrowser{atc: atc},
	}
}

func (f *fixture) options() Options {
	return Options{
		Teams:       f.atc,
		Fly:         f.fly,
		Browser:     f.browser,
		WaitTimeout: time.Second,
	}
}
