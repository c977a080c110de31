// Package manifest provides loading and validation of watch manifests.
//
// A watch manifest is a YAML or JSON file that declares a set of jobs
// to await: either explicit job IDs, or an experiment whose jobs are
// selected by glob patterns, plus the wait options.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	jobs:
//	  - 01J9FQ4QJ9Z3
//	  - 01J9FQ4QK0A7
//	wait:
//	  timeout: 2h
//	  fail_fast: true
//	  poll_interval: 5s
//	logs:
//	  follow: true
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Default wait values applied by ApplyDefaults.
const (
	DefaultPollInterval = Duration(2 * time.Second)
)

// Duration is a time.Duration that unmarshals from strings like "90s"
// or "2h" in both YAML and JSON manifests.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML decodes either a duration string or raw nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asInt int64
	if err := value.Decode(&asInt); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(asInt)
	return nil
}

// UnmarshalJSON decodes either a duration string or raw nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(asInt)
	return nil
}

// Manifest represents a validated watch manifest.
//
// Exactly one of Jobs or Experiment must be set: a manifest either
// names jobs directly or selects them out of an experiment.
type Manifest struct {
	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Jobs are explicit job IDs to await.
	Jobs []string `json:"jobs,omitempty" yaml:"jobs,omitempty"`

	// Experiment selects jobs from an experiment instead of naming
	// them directly.
	Experiment ExperimentSelector `json:"experiment,omitempty" yaml:"experiment,omitempty"`

	// Wait configures the await behavior (optional).
	Wait WaitConfig `json:"wait,omitempty" yaml:"wait,omitempty"`

	// Logs configures live log streaming (optional).
	Logs LogsConfig `json:"logs,omitempty" yaml:"logs,omitempty"`
}

// ExperimentSelector picks jobs out of an experiment by name patterns.
type ExperimentSelector struct {
	// ID is the experiment to list jobs from.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Includes are glob patterns job names must match (at least one).
	// Defaults to matching every job in the experiment.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`

	// Excludes are glob patterns job names must not match (any).
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// WaitConfig configures the await behavior.
type WaitConfig struct {
	// Timeout bounds each job's wait. Zero waits indefinitely.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// FailFast cancels remaining waits on the first non-success.
	FailFast bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	// PollInterval is the delay between status fetches.
	PollInterval Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
}

// LogsConfig configures live log streaming during an await.
type LogsConfig struct {
	// Follow streams log lines from every awaited job while waiting.
	Follow bool `json:"follow,omitempty" yaml:"follow,omitempty"`
}

// ApplyDefaults fills optional fields that were left unset.
func (m *Manifest) ApplyDefaults() {
	if m.Wait.PollInterval == 0 {
		m.Wait.PollInterval = DefaultPollInterval
	}
	if m.Experiment.ID != "" && len(m.Experiment.Includes) == 0 {
		m.Experiment.Includes = []string{"*"}
	}
}

// Validate checks manifest invariants after parsing.
func (m *Manifest) Validate() error {
	if m.Version != "1.0" {
		return fmt.Errorf("unsupported manifest version %q (expected \"1.0\")", m.Version)
	}
	if len(m.Jobs) == 0 && m.Experiment.ID == "" {
		return errors.New("manifest must set either jobs or experiment.id")
	}
	if len(m.Jobs) > 0 && m.Experiment.ID != "" {
		return errors.New("jobs and experiment.id are mutually exclusive")
	}
	for i, id := range m.Jobs {
		if id == "" {
			return fmt.Errorf("jobs[%d] is empty", i)
		}
	}
	if m.Wait.Timeout < 0 {
		return errors.New("wait.timeout must not be negative")
	}
	if m.Wait.PollInterval < 0 {
		return errors.New("wait.poll_interval must not be negative")
	}
	return nil
}
