package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/pkg/api"
	"github.com/statorlabs/beaker-go/pkg/await"
	"github.com/statorlabs/beaker-go/pkg/client"
	"github.com/statorlabs/beaker-go/pkg/logs"
	"github.com/statorlabs/beaker-go/pkg/manifest"
	"github.com/statorlabs/beaker-go/pkg/match"
	"github.com/statorlabs/beaker-go/pkg/outcome"
	"github.com/statorlabs/beaker-go/pkg/output"
	"github.com/statorlabs/beaker-go/pkg/poll"
)

var (
	awaitJobs         []string
	awaitExperiment   string
	awaitIncludes     []string
	awaitExcludes     []string
	awaitManifestPath string
	awaitTimeout      time.Duration
	awaitFailFast     bool
	awaitLogs         bool
	awaitQuiet        bool
	awaitJSONL        bool
)

var awaitCmd = &cobra.Command{
	Use:   "await",
	Short: "Wait for jobs to finish and report their outcomes",
	Long: `Wait for a set of jobs to reach a terminal state.

Jobs are selected either explicitly with --job, by experiment with
--experiment plus optional name patterns, or from a watch manifest.

Every selected job produces exactly one outcome. The exit code is 0
when all jobs succeed and 3 otherwise, so the command composes with
shell scripts and CI pipelines.

Example:
  beaker await --job 01J9FQ4QJ9Z3 --job 01J9FQ4QK0A7
  beaker await --experiment ex-123 --include "train-*" --fail-fast
  beaker await --manifest watch.yaml --logs
  beaker await --experiment ex-123 --jsonl > outcomes.jsonl`,
	RunE: runAwait,
}

func init() {
	rootCmd.AddCommand(awaitCmd)

	awaitCmd.Flags().StringArrayVarP(&awaitJobs, "job", "j", nil, "Job ID to await (repeatable)")
	awaitCmd.Flags().StringVarP(&awaitExperiment, "experiment", "e", "", "Await all jobs of this experiment")
	awaitCmd.Flags().StringArrayVar(&awaitIncludes, "include", nil, "Glob pattern job names must match (with --experiment)")
	awaitCmd.Flags().StringArrayVar(&awaitExcludes, "exclude", nil, "Glob pattern job names must not match (with --experiment)")
	awaitCmd.Flags().StringVarP(&awaitManifestPath, "manifest", "m", "", "Path to a watch manifest")
	awaitCmd.Flags().DurationVar(&awaitTimeout, "timeout", 0, "Per-job wait timeout (0 waits indefinitely)")
	awaitCmd.Flags().BoolVar(&awaitFailFast, "fail-fast", false, "Stop all waits on the first non-success")
	awaitCmd.Flags().BoolVar(&awaitLogs, "logs", false, "Stream log lines from every job while waiting")
	awaitCmd.Flags().BoolVarP(&awaitQuiet, "quiet", "q", false, "Suppress progress output")
	awaitCmd.Flags().BoolVar(&awaitJSONL, "jsonl", false, "Emit JSONL records instead of text")
}

// awaitPlan is the fully resolved input to one await run.
type awaitPlan struct {
	jobIDs       []string
	timeout      time.Duration
	pollInterval time.Duration
	failFast     bool
	logs         bool
}

func runAwait(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	// In JSONL mode the writer exists before job selection, so setup
	// failures still produce a parseable error record on stdout.
	var writer *output.JSONLWriter
	if awaitJSONL {
		writer = output.NewJSONLWriter(os.Stdout, uuid.New().String())
		defer func() { _ = writer.Close() }()
	}

	plan, err := resolveAwaitPlan(cmd.Context(), c)
	if err != nil {
		writeAwaitError(cmd.Context(), writer, err)
		return err
	}

	observability.CLILogger.Debug("Awaiting jobs",
		zap.Strings("job_ids", plan.jobIDs),
		zap.Duration("timeout", plan.timeout),
		zap.Bool("fail_fast", plan.failFast))

	poller, err := poll.New(c, poll.Config{Interval: plan.pollInterval}, nil)
	if err != nil {
		writeAwaitError(cmd.Context(), writer, err)
		return exitError(exitInvalidArgument, "Invalid poller configuration", err)
	}
	follower, err := logs.New(c, logs.Config{PollInterval: plan.pollInterval}, nil)
	if err != nil {
		writeAwaitError(cmd.Context(), writer, err)
		return exitError(exitInvalidArgument, "Invalid follower configuration", err)
	}
	agg, err := await.New(poller, follower)
	if err != nil {
		writeAwaitError(cmd.Context(), writer, err)
		return exitError(exitInvalidArgument, "Invalid aggregator configuration", err)
	}

	if awaitJSONL {
		return runAwaitJSONL(cmd.Context(), agg, plan, writer)
	}
	return runAwaitText(cmd.Context(), agg, plan)
}

// resolveAwaitPlan turns flags and the optional manifest into the set
// of job IDs to await plus the wait options.
func resolveAwaitPlan(ctx context.Context, c *client.Client) (*awaitPlan, error) {
	plan := &awaitPlan{
		timeout:      cfg.Watch.Timeout,
		pollInterval: cfg.Watch.PollInterval,
		failFast:     cfg.Watch.FailFast,
		logs:         awaitLogs,
	}

	selectors := 0
	if len(awaitJobs) > 0 {
		selectors++
	}
	if awaitExperiment != "" {
		selectors++
	}
	if awaitManifestPath != "" {
		selectors++
	}
	if selectors != 1 {
		return nil, exitError(exitInvalidArgument, "Exactly one of --job, --experiment, or --manifest is required", nil)
	}

	switch {
	case len(awaitJobs) > 0:
		plan.jobIDs = awaitJobs

	case awaitExperiment != "":
		ids, err := selectExperimentJobs(ctx, c, awaitExperiment, awaitIncludes, awaitExcludes)
		if err != nil {
			return nil, err
		}
		plan.jobIDs = ids

	default:
		m, err := manifest.Load(awaitManifestPath)
		if err != nil {
			return nil, exitError(exitInvalidArgument, "Invalid manifest", err)
		}
		if m.Wait.Timeout != 0 {
			plan.timeout = m.Wait.Timeout.Std()
		}
		if m.Wait.PollInterval != 0 {
			plan.pollInterval = m.Wait.PollInterval.Std()
		}
		plan.failFast = plan.failFast || m.Wait.FailFast
		plan.logs = plan.logs || m.Logs.Follow

		if len(m.Jobs) > 0 {
			plan.jobIDs = m.Jobs
		} else {
			ids, err := selectExperimentJobs(ctx, c, m.Experiment.ID, m.Experiment.Includes, m.Experiment.Excludes)
			if err != nil {
				return nil, err
			}
			plan.jobIDs = ids
		}
	}

	// Flags override manifest values when set.
	if awaitTimeout != 0 {
		plan.timeout = awaitTimeout
	}
	if awaitFailFast {
		plan.failFast = true
	}

	if len(plan.jobIDs) == 0 {
		return nil, exitError(exitInvalidArgument, "No jobs selected", nil)
	}
	return plan, nil
}

// selectExperimentJobs lists an experiment's jobs and filters them by
// display name patterns.
func selectExperimentJobs(ctx context.Context, c *client.Client, experiment string, includes, excludes []string) ([]string, error) {
	if len(includes) == 0 {
		includes = []string{"*"}
	}
	matcher, err := match.New(match.Config{Includes: includes, Excludes: excludes})
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid name pattern", err)
	}

	jobs, err := c.ListJobs(ctx, client.ListJobsOptions{Experiment: experiment})
	if err != nil {
		return nil, exitError(exitFailure, "Failed to list experiment jobs", err)
	}

	return filterJobIDs(jobs, matcher), nil
}

// filterJobIDs keeps the IDs of jobs whose display names pass the
// matcher, preserving listing order.
func filterJobIDs(jobs []api.Job, matcher *match.Matcher) []string {
	var ids []string
	for i := range jobs {
		if matcher.Match(jobs[i].DisplayName()) {
			ids = append(ids, jobs[i].ID)
		}
	}
	return ids
}

// runAwaitText streams human-readable progress to stdout.
func runAwaitText(ctx context.Context, agg *await.Aggregator, plan *awaitPlan) error {
	opts := await.Options{
		FailFast: plan.failFast,
		Timeout:  plan.timeout,
	}
	if plan.logs {
		opts.Logs = logSinkFunc(func(line api.LogLine) {
			fmt.Fprintf(os.Stdout, "[%s] %s\n", line.JobID, line.Message)
		})
	}

	results, err := agg.Completed(ctx, plan.jobIDs, opts)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid await request", err)
	}

	resolved := 0
	failed := 0
	for res := range results {
		resolved++
		if !res.Outcome.Succeeded() {
			failed++
		}
		if !awaitQuiet {
			fmt.Fprintf(os.Stdout, "%s: %s (%d/%d)\n",
				res.JobID, res.Outcome.String(), resolved, len(plan.jobIDs))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if failed > 0 {
		return exitError(exitJobFailed, fmt.Sprintf("%d of %d jobs did not succeed", failed, len(plan.jobIDs)), nil)
	}
	if !awaitQuiet {
		fmt.Fprintf(os.Stdout, "All %d jobs succeeded\n", len(plan.jobIDs))
	}
	return nil
}

// runAwaitJSONL emits typed JSONL records to stdout.
func runAwaitJSONL(ctx context.Context, agg *await.Aggregator, plan *awaitPlan, writer *output.JSONLWriter) error {
	started := time.Now()
	_ = writer.WriteProgress(ctx, &output.ProgressRecord{
		Phase:     output.PhaseStarting,
		JobsTotal: len(plan.jobIDs),
	})

	opts := await.Options{
		FailFast: plan.failFast,
		Timeout:  plan.timeout,
	}
	if plan.logs {
		opts.Logs = logSinkFunc(func(line api.LogLine) {
			_ = writer.WriteLog(ctx, &output.LogRecord{
				JobID:     line.JobID,
				Timestamp: line.Timestamp,
				Message:   string(line.Message),
			})
		})
	}

	results, err := agg.Completed(ctx, plan.jobIDs, opts)
	if err != nil {
		writeAwaitError(ctx, writer, err)
		return exitError(exitInvalidArgument, "Invalid await request", err)
	}

	summary := output.SummaryRecord{JobsTotal: len(plan.jobIDs)}
	resolved := 0
	for res := range results {
		resolved++
		tallyOutcome(&summary, res.Outcome)

		_ = writer.WriteOutcome(ctx, &output.OutcomeRecord{
			JobID:        res.JobID,
			Outcome:      outcomeName(res.Outcome),
			ExitCode:     exitCodeOf(res.Outcome),
			CanceledCode: canceledCodeName(res.Outcome),
			CanceledFor:  res.Outcome.CanceledReason,
			Message:      res.Outcome.Message,
			Duration:     time.Since(started),
		})
		if !awaitQuiet {
			_ = writer.WriteProgress(ctx, &output.ProgressRecord{
				Phase:        output.PhaseWaiting,
				JobsTotal:    len(plan.jobIDs),
				JobsResolved: resolved,
				JobID:        res.JobID,
			})
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	elapsed := time.Since(started)
	summary.Duration = elapsed
	summary.DurationHuman = elapsed.Round(time.Millisecond).String()
	_ = writer.WriteSummary(ctx, &summary)

	if notSucceeded := summary.JobsTotal - summary.Succeeded; notSucceeded > 0 {
		return exitError(exitJobFailed, fmt.Sprintf("%d of %d jobs did not succeed", notSucceeded, summary.JobsTotal), nil)
	}
	return nil
}

func tallyOutcome(summary *output.SummaryRecord, out outcome.Outcome) {
	switch out.Kind {
	case outcome.KindSucceeded:
		summary.Succeeded++
	case outcome.KindFailed:
		summary.Failed++
	case outcome.KindCanceled:
		summary.Canceled++
	case outcome.KindTimedOut:
		summary.TimedOut++
	case outcome.KindAborted:
		summary.Aborted++
	case outcome.KindStreamError:
		summary.Errors++
	}
}

func outcomeName(out outcome.Outcome) string {
	return out.Kind.String()
}

// exitCodeOf returns the exit code only for outcomes that ran to exit.
func exitCodeOf(out outcome.Outcome) *int {
	if out.Kind != outcome.KindSucceeded && out.Kind != outcome.KindFailed {
		return nil
	}
	code := out.ExitCode
	return &code
}

// writeAwaitError emits a beaker.error.v1 record for a failure that
// ends the watch before outcomes are available. No-op in text mode.
func writeAwaitError(ctx context.Context, writer *output.JSONLWriter, err error) {
	if writer == nil {
		return
	}
	cause := err
	var coded *exitCodeError
	if errors.As(err, &coded) && coded.err != nil {
		cause = coded.err
	}
	_ = writer.WriteError(ctx, &output.ErrorRecord{
		Code:    errorCodeFor(cause),
		Message: cause.Error(),
	})
}

// errorCodeFor maps a failure to its machine-readable record code.
func errorCodeFor(err error) string {
	switch {
	case client.IsUnauthorized(err):
		return output.ErrCodeUnauthorized
	case client.IsNotFound(err):
		return output.ErrCodeNotFound
	case client.IsThrottled(err):
		return output.ErrCodeThrottled
	case client.IsUnavailable(err):
		return output.ErrCodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeInternal
	}
}

func canceledCodeName(out outcome.Outcome) string {
	if out.Kind != outcome.KindCanceled {
		return ""
	}
	return out.CanceledCode.String()
}

// logSinkFunc adapts a function to the await.LogSink interface.
type logSinkFunc func(line api.LogLine)

func (f logSinkFunc) OnLine(line api.LogLine) { f(line) }
