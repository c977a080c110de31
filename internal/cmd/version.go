package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/internal/upgrade"
)

var versionCheckUpdate bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionCheckUpdate, "check-update", false, "Check for a newer release")
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("beaker %s\n", versionInfo.Version)
	fmt.Printf("  commit:     %s\n", versionInfo.Commit)
	fmt.Printf("  build date: %s\n", versionInfo.BuildDate)

	if !versionCheckUpdate && !cfg.Updates.Check {
		return nil
	}

	checker := upgrade.New(upgrade.Options{})
	res, err := checker.Check(cmd.Context(), versionInfo.Version)
	if err != nil {
		// The check is advisory; never fail the command over it.
		observability.CLILogger.Debug("Update check failed", zap.Error(err))
		return nil
	}
	if res.UpdateAvailable {
		fmt.Printf("\nA newer version is available: %s\n", res.Latest)
	}
	return nil
}
