package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const checkTimeout = 2 * time.Second

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Pinger can verify connectivity to its backing resource.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
// CatalogLoaded always runs; the store checks run only when wired, so an
// in-memory deployment is not marked unready for backends it does not have.
type ReadinessChecks struct {
	CatalogLoaded    func() bool
	OverrideStore    Pinger
	IdempotencyStore Pinger
}

// HandleHealth returns the liveness handler. It answers from process state
// alone; a live but unready server still reports ok here.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns the readiness handler. All checks run concurrently and
// any failing check flips the response to 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type probe struct {
			name string
			run  func(context.Context) CheckResult
		}

		probes := []probe{{
			name: "catalog",
			run: func(context.Context) CheckResult {
				start := time.Now()
				res := CheckResult{Status: "ok"}
				if checks.CatalogLoaded == nil || !checks.CatalogLoaded() {
					res = CheckResult{Status: "error", Error: "no catalog loaded"}
				}
				res.LatencyMs = time.Since(start).Milliseconds()
				return res
			},
		}}
		if checks.OverrideStore != nil {
			probes = append(probes, probe{"override_store", pingProbe(checks.OverrideStore)})
		}
		if checks.IdempotencyStore != nil {
			probes = append(probes, probe{"idempotency_store", pingProbe(checks.IdempotencyStore)})
		}

		results := make(map[string]CheckResult, len(probes))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, p := range probes {
			wg.Add(1)
			go func(p probe) {
				defer wg.Done()
				res := p.run(r.Context())
				mu.Lock()
				results[p.name] = res
				mu.Unlock()
			}(p)
		}
		wg.Wait()

		status, httpStatus := "ready", http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				status, httpStatus = "not_ready", http.StatusServiceUnavailable
				break
			}
		}

		writeHealthJSON(w, httpStatus, ReadinessResponse{Status: status, Checks: results})
	}
}

// pingProbe wraps a Pinger into a readiness probe with a per-check timeout.
func pingProbe(p Pinger) func(context.Context) CheckResult {
	return func(parent context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(parent, checkTimeout)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Status = "error"
			res.Error = err.Error()
		}
		return res
	}
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
