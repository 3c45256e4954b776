package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/output"
	"github.com/Dicklesworthstone/wats/internal/team"
)

func init() {
	teamsCmd.AddCommand(teamsListCmd, teamsCleanupCmd, teamsGrabCmd, teamsDestroyCmd, teamsLeakedCmd)
	rootCmd.AddCommand(teamsCmd)
}

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Manage wats test teams",
	Long: `Manage the test teams wats provisions on the ATC.

Test teams are the teams whose names start with teams.prefix. Only those
are ever destroyed; the admin team is never touched.`,
}

var teamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List teams on the ATC",
	Args:  cobra.NoArgs,
	RunE:  runTeamsList,
}

var teamsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy every test team on the ATC",
	Args:  cobra.NoArgs,
	RunE:  runTeamsCleanup,
}

var teamsGrabCmd = &cobra.Command{
	Use:   "grab",
	Short: "Create a uniquely named test team and print its name",
	Args:  cobra.NoArgs,
	RunE:  runTeamsGrab,
}

var teamsDestroyCmd = &cobra.Command{
	Use:   "destroy <team>",
	Short: "Destroy one test team",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamsDestroy,
}

var teamsLeakedCmd = &cobra.Command{
	Use:   "leaked",
	Short: "List ledger teams that were never destroyed",
	Long: `List the test teams the ledger recorded as created on this ATC but never
saw destroyed. Run 'wats teams cleanup' to destroy them.`,
	Args: cobra.NoArgs,
	RunE: runTeamsLeaked,
}

// teamEnv is what every teams subcommand works with.
type teamEnv struct {
	teams  *team.Provisioner
	ledger *db.DB
}

func (e *teamEnv) Close() error {
	return e.ledger.Close()
}

// newTeamEnv loads the config and logs the admin target in.
func newTeamEnv(ctx context.Context) (*teamEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newFlyClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := client.LoginAs(ctx, client.AdminTeam()); err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}
	prov, err := newProvisioner(cfg, client, ledger, "", logger)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return &teamEnv{teams: prov, ledger: ledger}, nil
}

type teamRow struct {
	Name     string `json:"name" yaml:"name"`
	TestTeam bool   `json:"test_team" yaml:"test_team"`
}

func runTeamsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	client, err := newFlyClient(cfg, logger)
	if err != nil {
		return err
	}
	prov, err := newProvisioner(cfg, client, nil, "", logger)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if err := client.LoginAs(ctx, client.AdminTeam()); err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	teams, err := client.Teams(ctx)
	if err != nil {
		return err
	}

	rows := make([]teamRow, 0, len(teams))
	for _, t := range teams {
		rows = append(rows, teamRow{Name: t.Name, TestTeam: prov.IsTestTeam(t.Name)})
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(rows)
	case "text":
		for _, r := range rows {
			marker := " "
			if r.TestTeam {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, r.Name)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

func runTeamsCleanup(cmd *cobra.Command, args []string) error {
	env, err := newTeamEnv(commandContext(cmd))
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.teams.CleanUpTestTeams(commandContext(cmd)); err != nil {
		return err
	}
	leaked, err := env.teams.Leaked()
	if err != nil {
		return err
	}

	result := map[string]any{"cleaned": true, "leaked": len(leaked)}
	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(result)
	case "text":
		fmt.Println("Test teams destroyed.")
		if len(leaked) > 0 {
			fmt.Printf("%d ledger teams are still open; see 'wats teams leaked'.\n", len(leaked))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

func runTeamsGrab(cmd *cobra.Command, args []string) error {
	env, err := newTeamEnv(commandContext(cmd))
	if err != nil {
		return err
	}
	defer env.Close()

	name, err := env.teams.GrabANewTeam(commandContext(cmd))
	if err != nil {
		return err
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(map[string]any{"team": name})
	case "text":
		fmt.Println(name)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

func runTeamsDestroy(cmd *cobra.Command, args []string) error {
	env, err := newTeamEnv(commandContext(cmd))
	if err != nil {
		return err
	}
	defer env.Close()

	name := args[0]
	if err := env.teams.DestroyTeam(commandContext(cmd), name); err != nil {
		return err
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(map[string]any{"destroyed": name})
	case "text":
		fmt.Printf("Destroyed %s\n", name)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

func runTeamsLeaked(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	leaked, err := ledger.ListLeakedTeams(cfg.ATC.URL, "")
	if err != nil {
		return err
	}
	if leaked == nil {
		leaked = []*db.Team{}
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(leaked)
	case "text":
		if len(leaked) == 0 {
			fmt.Printf("No leaked teams on %s\n", cfg.ATC.URL)
			return nil
		}
		for _, t := range leaked {
			fmt.Printf("%s  created %s ago\n", t.Name, time.Since(t.CreatedAt).Round(time.Second))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}

// commandContext returns cmd's context, or Background when cmd is nil or
// was not executed through cobra.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
