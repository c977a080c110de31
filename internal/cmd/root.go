// Package cmd implements the beaker CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statorlabs/beaker-go/internal/config"
	"github.com/statorlabs/beaker-go/internal/observability"
	"github.com/statorlabs/beaker-go/pkg/client"
)

// Exit codes returned by the CLI.
const (
	exitOK              = 0
	exitFailure         = 1
	exitInvalidArgument = 2
	exitJobFailed       = 3
	exitInterrupted     = 130
)

// versionInfo holds build-time version metadata, injected via
// SetVersionInfo from main.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and
// the User-Agent header.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfg      *config.Config
	cfgPath  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "beaker",
	Short: "Wait on remote jobs and stream their logs",
	Long: `beaker is a client for a remote job execution service.

It polls jobs and experiments to completion, follows their logs, and
reports typed outcomes suitable for scripting.

Configuration is read from $BEAKER_CONFIG (default ~/.beaker/config.yml)
and the BEAKER_TOKEN / BEAKER_ADDR environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			cfg, err = config.LoadFrom(cfgPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid configuration", err)
		}

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		observability.InitCLILogger(level, logJSON || cfg.Logging.JSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default $BEAKER_CONFIG or ~/.beaker/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as structured JSON")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var coded *exitCodeError
		if errors.As(err, &coded) {
			if coded.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", coded.msg, coded.err)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %s\n", coded.msg)
			}
			return coded.code
		}
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Interrupted")
			return exitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// exitCodeError carries a process exit code through cobra's error
// return path.
type exitCodeError struct {
	code int
	msg  string
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func exitError(code int, msg string, err error) error {
	return &exitCodeError{code: code, msg: msg, err: err}
}

// newAPIClient builds the service client from the loaded config.
func newAPIClient() (*client.Client, error) {
	if cfg.Token == "" {
		return nil, exitError(exitInvalidArgument, "No token configured",
			fmt.Errorf("set %s or user_token in %s", config.EnvToken, config.DefaultPath()))
	}
	c, err := client.New(client.Options{
		Address:           cfg.Address,
		Token:             cfg.Token,
		UserAgent:         "beaker-go/" + versionInfo.Version,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             cfg.Retry.ToRetry(),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observability.CLILogger.Warn("Retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	})
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid client configuration", err)
	}
	return c, nil
}
