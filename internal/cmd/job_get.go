package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/pkg/client"
	"github.com/statorlabs/beaker-go/pkg/outcome"
)

var jobGetJSON bool

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

func init() {
	jobCmd.AddCommand(jobGetCmd)
	jobGetCmd.Flags().BoolVar(&jobGetJSON, "json", false, "Print the raw job record as JSON")
}

func runJobGet(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	jobID := args[0]

	job, err := c.Job(cmd.Context(), jobID)
	if err != nil {
		if client.IsNotFound(err) {
			return exitError(exitInvalidArgument, "Job not found", err)
		}
		observability.CLILogger.Error("Failed to fetch job",
			zap.String("job_id", jobID),
			zap.Error(err))
		return exitError(exitFailure, "Failed to fetch job", err)
	}

	if jobGetJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	fmt.Printf("Job:    %s\n", job.DisplayName())
	fmt.Printf("ID:     %s\n", job.ID)
	fmt.Printf("State:  %s\n", job.Status.Current())
	if job.Execution != nil {
		fmt.Printf("Experiment: %s\n", job.Execution.Experiment)
	}
	if job.IsFinalized() {
		out := outcome.Classify(&job.Status)
		fmt.Printf("Outcome: %s\n", out.String())
	}
	return nil
}
