package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
version: "1.0"
jobs:
  - 01J9FQ4QJ9Z3
  - 01J9FQ4QK0A7
wait:
  timeout: 2h
  fail_fast: true
  poll_interval: 5s
logs:
  follow: true
`

const validJSON = `{
  "version": "1.0",
  "experiment": {"id": "ex-123", "includes": ["train-*"], "excludes": ["*-debug"]},
  "wait": {"timeout": "90s"}
}`

func TestLoadFromBytes_YAML(t *testing.T) {
	m, err := LoadFromBytes([]byte(validYAML), "watch.yaml")
	require.NoError(t, err)

	assert.Equal(t, "1.0", m.Version)
	assert.Equal(t, []string{"01J9FQ4QJ9Z3", "01J9FQ4QK0A7"}, m.Jobs)
	assert.Equal(t, 2*time.Hour, m.Wait.Timeout.Std())
	assert.True(t, m.Wait.FailFast)
	assert.Equal(t, 5*time.Second, m.Wait.PollInterval.Std())
	assert.True(t, m.Logs.Follow)
}

func TestLoadFromBytes_JSON(t *testing.T) {
	m, err := LoadFromBytes([]byte(validJSON), "watch.json")
	require.NoError(t, err)

	assert.Equal(t, "ex-123", m.Experiment.ID)
	assert.Equal(t, []string{"train-*"}, m.Experiment.Includes)
	assert.Equal(t, []string{"*-debug"}, m.Experiment.Excludes)
	assert.Equal(t, 90*time.Second, m.Wait.Timeout.Std())
}

func TestLoadFromBytes_UnknownExtensionFallsBackToYAML(t *testing.T) {
	m, err := LoadFromBytes([]byte(validYAML), "watchfile")
	require.NoError(t, err)
	assert.Len(t, m.Jobs, 2)
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	m, err := LoadFromBytes([]byte("version: \"1.0\"\njobs: [j1]\n"), "watch.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, m.Wait.PollInterval)
	assert.Zero(t, m.Wait.Timeout)
	assert.False(t, m.Wait.FailFast)
}

func TestLoadFromBytes_ExperimentDefaultsToMatchAll(t *testing.T) {
	m, err := LoadFromBytes([]byte("version: \"1.0\"\nexperiment:\n  id: ex-1\n"), "watch.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, m.Experiment.Includes)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty file", "", "empty"},
		{"bad version", "version: \"2.0\"\njobs: [j1]\n", "unsupported manifest version"},
		{"no jobs or experiment", "version: \"1.0\"\n", "either jobs or experiment.id"},
		{
			"jobs and experiment together",
			"version: \"1.0\"\njobs: [j1]\nexperiment:\n  id: ex-1\n",
			"mutually exclusive",
		},
		{"blank job id", "version: \"1.0\"\njobs: [\"\"]\n", "jobs[0] is empty"},
		{"bad duration", "version: \"1.0\"\njobs: [j1]\nwait:\n  timeout: soon\n", "invalid duration"},
		{"malformed yaml", "{{{{", "invalid YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), "watch.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_RawNanoseconds(t *testing.T) {
	m, err := LoadFromBytes([]byte(`{"version":"1.0","jobs":["j1"],"wait":{"timeout":5000000000}}`), "watch.json")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, m.Wait.Timeout.Std())
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validYAML), "watch.yaml")
	require.NoError(t, err)
	assert.Len(t, m.Jobs, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/watch.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
