package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/internal/simsvc"
)

var (
	simHost       string
	simPort       int
	simToken      string
	simFlakyEvery int
	simDemo       bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a local simulated job service",
	Long: `Run an in-process simulation of the job API for local testing.

With --demo the simulator is pre-loaded with a small experiment whose
jobs start, log, and finish on a scripted schedule, so the await and
logs commands can be exercised without real credentials:

  beaker sim --demo --port 8080 &
  BEAKER_ADDR=http://127.0.0.1:8080 BEAKER_TOKEN=sim beaker await --experiment demo --logs`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVar(&simHost, "host", "127.0.0.1", "Listen host")
	simCmd.Flags().IntVar(&simPort, "port", 8080, "Listen port (0 picks a free port)")
	simCmd.Flags().StringVar(&simToken, "token", "", "Require this bearer token (empty disables auth)")
	simCmd.Flags().IntVar(&simFlakyEvery, "flaky-every", 0, "Fail every Nth API request with 503")
	simCmd.Flags().BoolVar(&simDemo, "demo", false, "Pre-load a scripted demo experiment")
}

func runSim(cmd *cobra.Command, args []string) error {
	srv := simsvc.New(simsvc.Options{
		Host:       simHost,
		Port:       simPort,
		Token:      simToken,
		FlakyEvery: simFlakyEvery,
	})

	if simDemo {
		if err := loadDemoJobs(srv.Cluster()); err != nil {
			return exitError(exitFailure, "Failed to load demo jobs", err)
		}
	}

	observability.CLILogger.Info("Starting simulated service",
		zap.String("host", simHost),
		zap.Int("port", simPort),
		zap.Bool("demo", simDemo),
		zap.Int("flaky_every", simFlakyEvery))
	fmt.Printf("Simulated service listening on %s:%d\n", simHost, simPort)

	err := srv.Start(cmd.Context())
	if err != nil && cmd.Context().Err() != nil {
		// Normal shutdown via signal.
		return nil
	}
	return err
}

// loadDemoJobs scripts a small three-job experiment: one quick
// success, one slower success with logs, and one failure.
func loadDemoJobs(cluster *simsvc.Cluster) error {
	specs := []simsvc.JobSpec{
		{
			ID:         "demo-fast",
			Name:       "preprocess",
			Experiment: "demo",
			StartAfter: 2 * time.Second,
			RunFor:     5 * time.Second,
			LogLines:   []string{"reading input", "writing shards", "done"},
		},
		{
			ID:         "demo-train",
			Name:       "train-main",
			Experiment: "demo",
			StartAfter: 5 * time.Second,
			RunFor:     30 * time.Second,
			LogLines: []string{
				"epoch 1 loss 1.90",
				"epoch 2 loss 1.02",
				"epoch 3 loss 0.61",
				"epoch 4 loss 0.44",
				"saving checkpoint",
			},
		},
		{
			ID:         "demo-eval",
			Name:       "eval-heldout",
			Experiment: "demo",
			StartAfter: 8 * time.Second,
			RunFor:     12 * time.Second,
			ExitCode:   1,
			Fail:       true,
			LogLines:   []string{"loading checkpoint", "error: checkpoint not found"},
		},
	}
	for _, spec := range specs {
		if err := cluster.AddJob(spec); err != nil {
			return err
		}
	}
	return nil
}
