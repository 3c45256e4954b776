package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/wats/internal/output"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration wats would run with after merging defaults, the
config file, WATS_* environment variables and flags. The ATC password is
masked.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ATC.Password != "" {
		cfg.ATC.Password = "********"
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(cfg)
	case "text":
		enc := toml.NewEncoder(os.Stdout)
		enc.Indent = "  "
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}
