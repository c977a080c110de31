package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/pkg/client"
)

var jobStopReason string

var jobStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStop,
}

func init() {
	jobCmd.AddCommand(jobStopCmd)
	jobStopCmd.Flags().StringVar(&jobStopReason, "reason", "stopped via CLI", "Cancellation reason recorded on the job")
}

func runJobStop(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	jobID := args[0]

	if err := c.StopJob(cmd.Context(), jobID, jobStopReason); err != nil {
		if client.IsNotFound(err) {
			return exitError(exitInvalidArgument, "Job not found", err)
		}
		observability.CLILogger.Error("Failed to stop job",
			zap.String("job_id", jobID),
			zap.Error(err))
		return exitError(exitFailure, "Failed to stop job", err)
	}

	fmt.Printf("Stopped %s\n", jobID)
	return nil
}
