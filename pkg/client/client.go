// Package client implements the HTTP client for the Beaker API.
//
// A single Client wraps one pooled *http.Client and is safe for
// concurrent use; the polling and streaming layers issue many
// simultaneous requests against it. Idempotent requests are wrapped in
// the retry transport, rate limited, and tagged with a fresh request ID
// per attempt.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/statorlabs/beaker-go/pkg/api"
	"github.com/statorlabs/beaker-go/pkg/retry"
)

const apiPrefix = "/api/v3"

// Options configures a Client. Address and Token are required; all
// other fields have working defaults.
type Options struct {
	// Address is the base URL of the service, e.g. "https://beaker.org".
	Address string

	// Token is the bearer token used for authentication.
	Token string

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// RequestTimeout bounds each individual request attempt.
	RequestTimeout time.Duration

	// RequestsPerSecond limits the client-side request rate across all
	// concurrent callers. Zero disables rate limiting.
	RequestsPerSecond float64

	// Retry configures the backoff behavior for idempotent requests.
	Retry retry.Config

	// OnRetry observes retry attempts for logging/metrics. May be nil.
	OnRetry retry.OnRetryFunc

	// HTTPClient overrides the underlying HTTP client. Used by tests.
	HTTPClient *http.Client
}

// Client talks to the Beaker job API.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	retrier   *retry.Retrier
}

// New builds a Client from Options.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, fmt.Errorf("client: address is required")
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("client: token is required")
	}
	base, err := url.Parse(opts.Address)
	if err != nil {
		return nil, fmt.Errorf("client: parse address: %w", err)
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	retrier, err := retry.New(opts.Retry, IsRetryable, opts.OnRetry)
	if err != nil {
		return nil, err
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "beaker-go"
	}

	return &Client{
		base:      base,
		token:     opts.Token,
		userAgent: userAgent,
		http:      httpClient,
		limiter:   limiter,
		retrier:   retrier,
	}, nil
}

// Job fetches the current state of a job. The snapshot is produced
// fresh on every call; it is never cached or mutated.
func (c *Client) Job(ctx context.Context, jobID string) (*api.Job, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	var job api.Job
	err := c.getJSON(ctx, "Job", jobID, "jobs/"+url.PathEscape(jobID), nil, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobLogs fetches one batch of log lines for a job, resuming from the
// cursor in req. The server bounds batch size, so an active job may
// need repeated calls; pkg/logs drives that loop.
func (c *Client) JobLogs(ctx context.Context, jobID string, req api.LogsRequest) (*api.LogBatch, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	if !req.Since.IsZero() && req.TailLines > 0 {
		return nil, fmt.Errorf("client: since and tail_lines are mutually exclusive")
	}

	query := url.Values{}
	if !req.Since.IsZero() {
		query.Set("since", req.Since.UTC().Format(time.RFC3339Nano))
	}
	if req.TailLines > 0 {
		query.Set("tail_lines", strconv.Itoa(req.TailLines))
	}

	var batch *api.LogBatch
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID)+"/logs", query, nil)
		if err != nil {
			return &APIError{Op: "JobLogs", JobID: jobID, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		if err := c.checkStatus("JobLogs", jobID, resp); err != nil {
			return err
		}
		b, err := decodeLogStream(resp.Body, jobID)
		if err != nil {
			return &APIError{Op: "JobLogs", JobID: jobID, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// StopJob cancels a job. The resulting outcome will carry the manual
// cancellation code with the given reason.
func (c *Client) StopJob(ctx context.Context, jobID, reason string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	code := api.CanceledCodeManual
	patch := map[string]any{
		"status": map[string]any{
			"canceled":      true,
			"canceled_for":  reason,
			"canceled_code": code,
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("client: marshal stop patch: %w", err)
	}

	// Not idempotent from the server's perspective, so no retry loop.
	resp, err := c.send(ctx, http.MethodPatch, "jobs/"+url.PathEscape(jobID), nil, body)
	if err != nil {
		return &APIError{Op: "StopJob", JobID: jobID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	return c.checkStatus("StopJob", jobID, resp)
}

// ListJobsOptions filters a job listing. Exactly one of Experiment,
// Cluster, or Node must be set.
type ListJobsOptions struct {
	Experiment string
	Cluster    string
	Node       string
	Kind       api.JobKind
	Finalized  bool
}

func (o ListJobsOptions) validate() error {
	set := 0
	for _, v := range []string{o.Experiment, o.Cluster, o.Node} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("client: exactly one of experiment, cluster, or node must be set")
	}
	return nil
}

// ListJobs gathers all jobs matching opts, following pagination
// cursors until the listing is exhausted.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]api.Job, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	if opts.Experiment != "" {
		query.Set("experiment", opts.Experiment)
	}
	if opts.Cluster != "" {
		query.Set("cluster", opts.Cluster)
	}
	if opts.Node != "" {
		query.Set("node", opts.Node)
	}
	if opts.Kind != "" {
		query.Set("kind", string(opts.Kind))
	}
	query.Set("finalized", strconv.FormatBool(opts.Finalized))

	var jobs []api.Job
	for {
		var page api.JobPage
		if err := c.getJSON(ctx, "ListJobs", "", "jobs", query, &page); err != nil {
			return nil, err
		}
		jobs = append(jobs, page.Data...)
		if page.Next == "" {
			return jobs, nil
		}
		query.Set("cursor", page.Next)
	}
}

// Account identifies the authenticated user.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WhoAmI reports who the client is authenticated as. Useful as a cheap
// connectivity and credential check.
func (c *Client) WhoAmI(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.getJSON(ctx, "WhoAmI", "", "user", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// getJSON performs a retried GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, op, jobID, path string, query url.Values, out any) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return &APIError{Op: op, JobID: jobID, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		if err := c.checkStatus(op, jobID, resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Op: op, JobID: jobID, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}
		return nil
	})
}

// send issues a single request attempt. The rate limiter gates every
// attempt, including retries.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + "/" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// checkStatus maps non-2xx responses to the error taxonomy, consuming
// the body for the server's error message.
func (c *Client) checkStatus(op, jobID string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var msg string
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil && len(data) > 0 {
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			msg = body.Message
		}
	}

	err := errorForStatus(resp.StatusCode)
	if err == nil {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &APIError{Op: op, JobID: jobID, Status: resp.StatusCode, Message: msg, Err: err}
}

func validateJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("client: job id is required")
	}
	return nil
}
