package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/wats/internal/config"
	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/output"
)

var (
	flagInitForce bool
)

// defaultFixture is written by init when no pipeline fixture exists yet.
const defaultFixture = `---
resources:
- name: every-minute
  type: time
  source: {interval: 1m}

jobs:
- name: passing
  plan:
  - get: every-minute
    trigger: true
  - task: pass
    config:
      platform: linux
      image_resource:
        type: registry-image
        source: {repository: busybox}
      run: {path: "true"}
`

func init() {
	initCmd.Flags().BoolVarP(&flagInitForce, "force", "f", false, "reinitialize even if .wats/ already exists")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize wats in the current project",
	Long: `Initialize the wats directory structure for a project.

Creates the following structure:
  .wats/
  ├── state.db         # SQLite ledger of runs, teams and results
  ├── config.toml      # Project-specific configuration
  └── artifacts/       # Screenshots of failed scenarios
  fixtures/
  └── states-pipeline.yml  # Pipeline every scenario sets (kept if present)

Also adds .wats/ to .gitignore if not already present.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	watsDir := config.ProjectDir(projectDir)
	if info, err := os.Stat(watsDir); err == nil && info.IsDir() && !flagInitForce {
		return fmt.Errorf("already initialized: %s exists (use --force to reinitialize)", watsDir)
	}

	defaults := config.Default()
	artifactsDir := filepath.Join(projectDir, defaults.Browser.ArtifactsDir)
	for _, dir := range []string{watsDir, artifactsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	dbPath := filepath.Join(projectDir, defaults.Ledger.Path)
	ledger, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("initializing ledger: %w", err)
	}
	ledger.Close()

	configPath := config.ProjectFile(projectDir)
	if err := writeDefaultConfig(configPath, flagInitForce); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}

	fixturePath := filepath.Join(projectDir, defaults.Fixtures.Pipeline)
	fixtureCreated, err := writeDefaultFixture(fixturePath)
	if err != nil {
		return fmt.Errorf("creating fixture: %w", err)
	}

	gitignorePath := filepath.Join(projectDir, ".gitignore")
	if err := addToGitignore(gitignorePath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not update .gitignore: %v\n", err)
	}

	result := map[string]any{
		"initialized":     true,
		"path":            watsDir,
		"database":        dbPath,
		"config":          configPath,
		"fixture":         fixturePath,
		"fixture_created": fixtureCreated,
	}

	switch GetOutput() {
	case "json", "yaml":
		out := output.New(output.Format(GetOutput()))
		return out.Write(result)
	case "text":
		fmt.Printf("Initialized wats in %s\n", watsDir)
		fmt.Println()
		fmt.Println("Created:")
		fmt.Println("  .wats/state.db      - run ledger")
		fmt.Println("  .wats/config.toml   - configuration file")
		fmt.Println("  .wats/artifacts/    - failure screenshots")
		if fixtureCreated {
			fmt.Printf("  %s - pipeline fixture\n", defaults.Fixtures.Pipeline)
		}
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  1. Point atc.url in .wats/config.toml at your web node")
		fmt.Println("  2. Check your admin credentials: wats teams leaked")
		fmt.Println("  3. Run the dashboard scenarios: wats run")
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

// writeDefaultConfig writes a default config.toml with a header comment.
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	}

	cfg := config.Default()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := `# wats configuration
#
# Precedence: defaults < this file (or --config) < env (WATS_*, e.g. WATS_ATC_URL) < flags

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	enc := toml.NewEncoder(f)
	enc.Indent = "  "
	return enc.Encode(cfg)
}

// writeDefaultFixture writes the pipeline fixture unless one exists.
func writeDefaultFixture(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(defaultFixture), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// addToGitignore ensures .wats/ is in .gitignore.
func addToGitignore(path string) error {
	const watsEntry = ".wats/"

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == watsEntry || line == ".wats" {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	content := ""
	if info.Size() > 0 {
		var buf [1]byte
		if _, err := f.ReadAt(buf[:], info.Size()-1); err == nil && buf[0] != '\n' {
			content = "\n"
		}
	}
	content += "\n# wats ledger and failure screenshots\n" + watsEntry + "\n"

	_, err = f.WriteString(content)
	return err
}
