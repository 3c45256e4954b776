package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Dicklesworthstone/wats/internal/db"
)

// FixturePipeline is the relative path of the pipeline fixture a Harness writes.
const FixturePipeline = "fixtures/states-pipeline.yml"

// Harness is a throwaway wats project: a temp directory with .wats/, a
// migrated ledger, a pipeline fixture and a fake fly.
type Harness struct {
	T          testing.TB
	ProjectDir string
	WatsDir    string
	DBPath     string
	DB         *db.DB
	Fly        *FakeFly
}

// NewHarness builds a Harness under t.TempDir.
func NewHarness(t testing.TB) *Harness {
	t.Helper()

	projectDir := t.TempDir()
	watsDir := filepath.Join(projectDir, ".wats")
	if err := os.MkdirAll(watsDir, 0750); err != nil {
		t.Fatalf("creating .wats: %v", err)
	}

	dbPath := filepath.Join(watsDir, "state.db")
	h := &Harness{
		T:          t,
		ProjectDir: projectDir,
		WatsDir:    watsDir,
		DBPath:     dbPath,
		DB:         NewTestDBAtPath(t, dbPath),
		Fly:        NewFakeFly(t),
	}
	h.WriteFile(FixturePipeline, []byte("jobs:\n- name: passing\n  plan: []\n"), 0644)
	return h
}

// MustPath joins parts onto the project directory.
func (h *Harness) MustPath(parts ...string) string {
	return filepath.Join(append([]string{h.ProjectDir}, parts...)...)
}

// WriteFile writes data to a path relative to the project directory,
// creating parent directories, and returns the absolute path.
func (h *Harness) WriteFile(rel string, data []byte, perm os.FileMode) string {
	h.T.Helper()

	path := h.MustPath(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		h.T.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		h.T.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func (h *Harness) String() string {
	if h == nil {
		return "Harness<nil>"
	}
	return fmt.Sprintf("Harness{project=%s db=%s fly=%s}", h.ProjectDir, h.DBPath, h.Fly.Path)
}
