package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/wats/internal/output"
)

// Build information, set with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wats version",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := map[string]string{
		"version": Version,
		"commit":  Commit,
		"go":      runtime.Version(),
	}

	switch GetOutput() {
	case "json", "yaml":
		return output.New(output.Format(GetOutput())).Write(info)
	case "text":
		fmt.Printf("wats %s (%s, %s)\n", Version, Commit, runtime.Version())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", GetOutput())
	}
}
