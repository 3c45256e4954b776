package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/output"
)

var (
	flagRunsLimit int
)

func init() {
	runsCmd.Flags().IntVarP(&flagRunsLimit, "limit", "n", 20, "number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show recorded suite runs",
	Long: `Without arguments, list the most recent suite runs in the ledger.
With a run ID, show that run and the result of each of its scenarios.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

// runDetail is a run with its scenario results.
type runDetail struct {
	db.Run  `yaml:",inline"`
	Results []*db.ScenarioResult `json:"results" yaml:"results"`
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if len(args) == 1 {
		return showRun(ledger, args[0])
	}

	runs, err := ledger.ListRuns(flagRunsLimit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*db.Run{}
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(runs)
	case "text":
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-7s  %s  %s\n", r.ID, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ATCURL)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

func showRun(ledger *db.DB, id string) error {
	run, err := ledger.GetRun(id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	results, err := ledger.ListScenarioResults(id)
	if err != nil {
		return err
	}
	if results == nil {
		results = []*db.ScenarioResult{}
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(runDetail{Run: *run, Results: results})
	case "text":
		fmt.Printf("Run %s (%s) against %s\n", run.ID, run.Status, run.ATCURL)
		if run.Error != "" {
			fmt.Printf("  error: %s\n", run.Error)
		}
		for _, r := range results {
			mark := "✓"
			if !r.Passed() {
				mark = "✗"
			}
			fmt.Printf("  %s %s  team=%s state=%s\n", mark, r.Scenario, r.TeamName, r.State)
			if r.Error != "" {
				fmt.Printf("      %s: %s\n", r.ErrorKind, r.Error)
			}
			if len(r.Actual) > 0 {
				fmt.Printf("      expected [%s]\n", strings.Join(r.Expected, ", "))
				fmt.Printf("      actual   [%s]\n", strings.Join(r.Actual, ", "))
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}
