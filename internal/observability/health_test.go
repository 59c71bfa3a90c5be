package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(_ context.Context) error { return p.err }

func probeReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks)(rec, httptest.NewRequest(http.MethodGet, "/ui/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode readiness body: %v", err)
	}
	return rec.Code, resp
}

// --- liveness ---

func TestHandleHealth(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version, Commit = "1.2.3", "abc1234"
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })

	rec := httptest.NewRecorder()
	HandleHealth()(rec, httptest.NewRequest(http.MethodGet, "/ui/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("body = %+v, want ok/1.2.3/abc1234", resp)
	}
}

// --- readiness ---

func TestHandleReady_catalogOnly(t *testing.T) {
	code, resp := probeReady(t, ReadinessChecks{
		CatalogLoaded: func() bool { return true },
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 1 {
		t.Errorf("checks = %d, want only the catalog check without wired stores", len(resp.Checks))
	}
	cat := resp.Checks["catalog"]
	if cat.Status != "ok" {
		t.Errorf("catalog = %q, want ok", cat.Status)
	}
	if cat.LatencyMs < 0 {
		t.Errorf("catalog latency = %d, want >= 0", cat.LatencyMs)
	}
}

func TestHandleReady_allStoresHealthy(t *testing.T) {
	code, resp := probeReady(t, ReadinessChecks{
		CatalogLoaded:    func() bool { return true },
		OverrideStore:    &stubPinger{},
		IdempotencyStore: &stubPinger{},
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Checks) != 3 {
		t.Fatalf("checks = %d, want 3", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
	}
}

func TestHandleReady_failureModes(t *testing.T) {
	cases := []struct {
		name      string
		checks    ReadinessChecks
		failCheck string
		wantErr   string
	}{
		{
			name:      "catalog empty",
			checks:    ReadinessChecks{CatalogLoaded: func() bool { return false }},
			failCheck: "catalog",
			wantErr:   "no catalog loaded",
		},
		{
			name:      "catalog check not wired",
			checks:    ReadinessChecks{},
			failCheck: "catalog",
			wantErr:   "no catalog loaded",
		},
		{
			name: "override store down",
			checks: ReadinessChecks{
				CatalogLoaded: func() bool { return true },
				OverrideStore: &stubPinger{err: errors.New("connection refused")},
			},
			failCheck: "override_store",
			wantErr:   "connection refused",
		},
		{
			name: "idempotency store down",
			checks: ReadinessChecks{
				CatalogLoaded:    func() bool { return true },
				IdempotencyStore: &stubPinger{err: errors.New("redis timeout")},
			},
			failCheck: "idempotency_store",
			wantErr:   "redis timeout",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := probeReady(t, tc.checks)
			if code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", code)
			}
			if resp.Status != "not_ready" {
				t.Errorf("status = %q, want not_ready", resp.Status)
			}
			check := resp.Checks[tc.failCheck]
			if check.Status != "error" {
				t.Errorf("%s = %q, want error", tc.failCheck, check.Status)
			}
			if check.Error != tc.wantErr {
				t.Errorf("%s error = %q, want %q", tc.failCheck, check.Error, tc.wantErr)
			}
		})
	}
}

func TestHandleReady_reportsEveryFailure(t *testing.T) {
	code, resp := probeReady(t, ReadinessChecks{
		CatalogLoaded: func() bool { return false },
		OverrideStore: &stubPinger{err: errors.New("pg down")},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	failed := 0
	for _, check := range resp.Checks {
		if check.Status == "error" {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed checks = %d, want 2", failed)
	}
}
