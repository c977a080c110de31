package simsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/statorlabs/beaker-go/pkg/api"
)

// Options configures the simulated service.
type Options struct {
	// Host and Port are the listen address. Port 0 picks a free port.
	Host string
	Port int

	// Token, when set, requires Bearer authentication on API routes.
	Token string

	// FlakyEvery makes every Nth API request fail with 503, so retry
	// behavior can be exercised end to end. Zero disables it.
	FlakyEvery int
}

// Server hosts the simulated job API over HTTP.
type Server struct {
	opts     Options
	cluster  *Cluster
	requests atomic.Int64

	http     *http.Server
	listener net.Listener
}

// New creates a Server with an empty cluster.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	return &Server{
		opts:    opts,
		cluster: NewCluster(),
	}
}

// Cluster exposes the job store so callers can script jobs.
func (s *Server) Cluster() *Cluster {
	return s.cluster
}

// Port returns the bound port after Start, or the configured port.
func (s *Server) Port() int {
	if s.listener != nil {
		return s.listener.Addr().(*net.TCPAddr).Port
	}
	return s.opts.Port
}

// Address returns the base URL of the running server.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.opts.Host, s.Port())
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v3", func(r chi.Router) {
		r.Use(s.flaky)
		r.Use(s.auth)

		r.Get("/user", s.handleWhoAmI)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Patch("/jobs/{jobID}", s.handlePatchJob)
		r.Get("/jobs/{jobID}/logs", s.handleJobLogs)
	})

	return r
}

// Start binds the listener and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port))
	if err != nil {
		return fmt.Errorf("simsvc: listen: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// flaky injects a 503 on every Nth request when configured.
func (s *Server) flaky(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := s.opts.FlakyEvery; n > 0 {
			if s.requests.Add(1)%int64(n) == 0 {
				writeError(w, http.StatusServiceUnavailable, "injected failure")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"id":   "us_sim",
		"name": "simulator",
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.cluster.Job(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs := s.cluster.List(q.Get("experiment"), q.Get("cluster"), q.Get("node"))

	if q.Get("finalized") == "true" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.IsFinalized() {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	writeJSON(w, http.StatusOK, api.JobPage{Data: jobs})
}

func (s *Server) handlePatchJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var patch struct {
		Status struct {
			Canceled     bool              `json:"canceled"`
			CanceledFor  string            `json:"canceled_for"`
			CanceledCode *api.CanceledCode `json:"canceled_code"`
		} `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed patch body")
		return
	}
	if !patch.Status.Canceled {
		writeError(w, http.StatusBadRequest, "only cancellation patches are supported")
		return
	}

	code := api.CanceledCodeManual
	if patch.Status.CanceledCode != nil {
		code = *patch.Status.CanceledCode
	}
	if !s.cluster.Stop(jobID, code, patch.Status.CanceledFor) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}

	job, _ := s.cluster.Job(jobID)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	q := r.URL.Query()

	var since time.Time
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed since parameter")
			return
		}
		since = parsed
	}
	tail := 0
	if raw := q.Get("tail_lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "malformed tail_lines parameter")
			return
		}
		tail = parsed
	}

	entries, ok := s.cluster.Logs(jobID, since, tail)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		_ = enc.Encode(map[string]any{
			"timestamp": entry.ts.UTC().Format(time.RFC3339Nano),
			"message":   entry.msg,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
