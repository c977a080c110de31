package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/pkg/api"
	"github.com/statorlabs/beaker-go/pkg/logs"
)

var (
	jobLogsFollow     bool
	jobLogsTail       int
	jobLogsTimestamps bool
)

var jobLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Print a job's logs",
	Long: `Print a job's logs to stdout.

Without --follow, the currently available lines are printed and the
command exits. With --follow, new lines are streamed until the job
reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobLogs,
}

func init() {
	jobCmd.AddCommand(jobLogsCmd)
	jobLogsCmd.Flags().BoolVarP(&jobLogsFollow, "follow", "f", false, "Stream new lines until the job finishes")
	jobLogsCmd.Flags().IntVar(&jobLogsTail, "tail", 0, "Only print the last N lines")
	jobLogsCmd.Flags().BoolVar(&jobLogsTimestamps, "timestamps", false, "Prefix each line with its timestamp")
}

func runJobLogs(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	jobID := args[0]

	if !jobLogsFollow {
		batch, err := c.JobLogs(cmd.Context(), jobID, api.LogsRequest{TailLines: jobLogsTail})
		if err != nil {
			return exitError(exitFailure, "Failed to fetch logs", err)
		}
		for _, line := range batch.Lines {
			printLogLine(line)
		}
		return nil
	}

	follower, err := logs.New(c, logs.Config{PollInterval: cfg.Watch.PollInterval}, nil)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid follower configuration", err)
	}

	session, err := follower.Follow(cmd.Context(), jobID, logs.Options{TailLines: jobLogsTail})
	if err != nil {
		return exitError(exitFailure, "Failed to start log stream", err)
	}

	for line := range session.Lines() {
		printLogLine(line)
	}
	if err := session.Err(); err != nil {
		observability.CLILogger.Error("Log stream ended with error",
			zap.String("job_id", jobID),
			zap.Error(err))
		return exitError(exitFailure, "Log stream failed", err)
	}
	return nil
}

func printLogLine(line api.LogLine) {
	if jobLogsTimestamps {
		fmt.Fprintf(os.Stdout, "%s %s\n", line.Timestamp.UTC().Format(time.RFC3339Nano), line.Message)
		return
	}
	fmt.Fprintf(os.Stdout, "%s\n", line.Message)
}
