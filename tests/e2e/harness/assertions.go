package harness

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Dicklesworthstone/wats/internal/scenario"
)

// AssertFileExists fails if rel does not exist under ProjectDir.
func (env *Environment) AssertFileExists(rel string) {
	env.T.Helper()
	if _, err := os.Stat(filepath.Join(env.ProjectDir, rel)); err != nil {
		env.T.Errorf("expected %s to exist: %v", rel, err)
	}
}

// AssertOrder fails unless actual equals expected element by element.
func (env *Environment) AssertOrder(expected, actual []string) {
	env.T.Helper()
	if !slices.Equal(expected, actual) {
		env.T.Errorf("pipeline order: expected [%s], got [%s]",
			strings.Join(expected, ", "), strings.Join(actual, ", "))
		return
	}
	env.Result("order ok: [%s]", strings.Join(actual, ", "))
}

// AssertState fails unless sc is in want.
func (env *Environment) AssertState(sc *scenario.Context, want scenario.State) {
	env.T.Helper()
	if sc.State != want {
		env.T.Errorf("scenario state: got %s, want %s", sc.State, want)
	}
}

// AssertTeamLive fails unless the ledger shows name as not destroyed.
func (env *Environment) AssertTeamLive(name string) {
	env.T.Helper()
	t, err := env.Ledger.GetTeam(name)
	if err != nil {
		env.T.Errorf("ledger team %s: %v", name, err)
		return
	}
	if !t.IsLive() {
		env.T.Errorf("team %s destroyed, want live", name)
	}
}

// AssertResultCount fails unless the ledger recorded want results for this run.
func (env *Environment) AssertResultCount(want int) {
	env.T.Helper()
	results, err := env.Ledger.ListScenarioResults(env.RunID)
	if err != nil {
		env.T.Errorf("listing results: %v", err)
		return
	}
	if len(results) != want {
		env.T.Errorf("recorded results: got %d, want %d", len(results), want)
	}
}
