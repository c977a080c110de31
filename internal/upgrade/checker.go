// Package upgrade implements the optional new-version check.
//
// The check is off by default and never blocks or fails a command: a
// stale or unreachable release endpoint only means no notice is
// printed. Results are cached on disk so at most one request is made
// per check interval.
package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-semver/semver"
)

// DefaultEndpoint serves the latest released version as JSON.
const DefaultEndpoint = "https://api.github.com/repos/statorlabs/beaker-go/releases/latest"

// DefaultInterval is the minimum time between real checks.
const DefaultInterval = 12 * time.Hour

// Options configures a Checker. The zero value works; unset fields
// get defaults.
type Options struct {
	// Endpoint is the release metadata URL.
	Endpoint string

	// StatePath is where the last-check state is persisted. Defaults
	// to .beaker-go-update.json next to the Beaker config.
	StatePath string

	// Interval throttles how often the endpoint is contacted.
	Interval time.Duration

	// HTTPClient overrides the HTTP client. Used by tests.
	HTTPClient *http.Client

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Result reports the outcome of a version check.
type Result struct {
	// Latest is the newest released version.
	Latest string

	// UpdateAvailable is true when Latest is newer than the running
	// version.
	UpdateAvailable bool

	// FromCache is true when the result came from the state file
	// instead of a fresh request.
	FromCache bool
}

// state is the on-disk check cache.
type state struct {
	LastChecked time.Time `json:"last_checked"`
	Latest      string    `json:"latest"`
}

// Checker performs throttled version checks.
type Checker struct {
	endpoint  string
	statePath string
	interval  time.Duration
	http      *http.Client
	now       func() time.Time
}

// New builds a Checker from Options.
func New(opts Options) *Checker {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.StatePath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			opts.StatePath = filepath.Join(home, ".beaker", ".beaker-go-update.json")
		}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{
		endpoint:  opts.Endpoint,
		statePath: opts.StatePath,
		interval:  opts.Interval,
		http:      opts.HTTPClient,
		now:       opts.Now,
	}
}

// Check reports whether a newer version than current is available.
//
// Within the check interval the cached result is used; otherwise the
// endpoint is contacted and the state file refreshed.
func (c *Checker) Check(ctx context.Context, current string) (*Result, error) {
	cached := c.loadState()
	if cached != nil && c.now().Sub(cached.LastChecked) < c.interval {
		return &Result{
			Latest:          cached.Latest,
			UpdateAvailable: newerThan(cached.Latest, current),
			FromCache:       true,
		}, nil
	}

	latest, err := c.fetchLatest(ctx)
	if err != nil {
		return nil, err
	}

	c.saveState(state{LastChecked: c.now(), Latest: latest})
	return &Result{
		Latest:          latest,
		UpdateAvailable: newerThan(latest, current),
	}, nil
}

func (c *Checker) fetchLatest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("upgrade: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upgrade: fetch releases: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upgrade: release endpoint returned %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("upgrade: decode release: %w", err)
	}
	if release.TagName == "" {
		return "", fmt.Errorf("upgrade: release has no tag")
	}
	return release.TagName, nil
}

func (c *Checker) loadState() *state {
	if c.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return nil
	}
	var s state
	if json.Unmarshal(data, &s) != nil || s.Latest == "" {
		return nil
	}
	return &s
}

func (c *Checker) saveState(s state) {
	if c.statePath == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(c.statePath, data, 0o600)
}

// newerThan reports whether latest is a strictly newer version than
// current. Unparseable versions never trigger an update notice.
func newerThan(latest, current string) bool {
	lv, err := semver.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false
	}
	cv, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false
	}
	return cv.LessThan(*lv)
}
