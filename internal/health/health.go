// Package health provides HTTP liveness and readiness probes.
//
//   - /healthz reports liveness; it always returns 200 for a process that
//     can still serve HTTP.
//   - /readyz reports readiness; it returns 200 only when every registered
//     [Check] passes. Checks run concurrently, each under its own timeout.
//
// Responses are JSON with a top-level "status" ("ok" or "fail"), the process
// uptime, and a per-check breakdown with observed latency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Check is a named readiness probe. Probe returns nil when the dependency is
// healthy; it must respect context cancellation.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// checkResult is the per-check JSON fragment.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// response is the JSON body for both probes.
type response struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The check list is fixed at
// construction time; Handler is safe for concurrent use.
type Handler struct {
	started time.Time
	checks  []Check
}

// New creates a [Handler] that evaluates the given checks on each /readyz
// request.
func New(checks ...Check) *Handler {
	return &Handler{
		started: time.Now(),
		checks:  append([]Check(nil), checks...),
	}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe. All checks run concurrently; the response
// status is "fail" if any check fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	results := make(map[string]checkResult, len(h.checks))
	allOK := true

	g, ctx := errgroup.WithContext(r.Context())
	for _, c := range h.checks {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Probe(probeCtx)
			latency := time.Since(start).Round(time.Millisecond).String()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[c.Name] = checkResult{Status: "fail", Error: err.Error(), Latency: latency}
				allOK = false
			} else {
				results[c.Name] = checkResult{Status: "ok", Latency: latency}
			}
			// Failures are reported in the body, never as a group error, so
			// every check always runs.
			return nil
		})
	}
	_ = g.Wait()

	res := response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Checks: results,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
