package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// HealthResponse is the body of the liveness endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the body of the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks are the dependencies behind /readyz. Nil checkers are
// skipped.
type ReadinessChecks struct {
	SessionStore  HealthChecker
	SettingsStore HealthChecker
	Poller        HealthChecker
}

func (c ReadinessChecks) configured() map[string]HealthChecker {
	out := make(map[string]HealthChecker, 3)
	for name, hc := range map[string]HealthChecker{
		"session_store":  c.SessionStore,
		"settings_store": c.SettingsStore,
		"poller":         c.Poller,
	} {
		if hc != nil {
			out[name] = hc
		}
	}
	return out
}

const (
	checkTimeout = 2 * time.Second
	checkOK      = "ok"
	checkFailed  = "error"
)

// HandleHealth serves liveness: the process is up and answering.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:        checkOK,
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleReady serves readiness. All configured checks run concurrently;
// any failure turns the response into a 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type outcome struct {
			name   string
			result CheckResult
		}
		pending := checks.configured()
		done := make(chan outcome, len(pending))
		for name, hc := range pending {
			go func() { done <- outcome{name, runCheck(r.Context(), hc)} }()
		}

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(pending))}
		code := http.StatusOK
		for range pending {
			o := <-done
			resp.Checks[o.name] = o.result
			if o.result.Status != checkOK {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
			}
		}
		writeHealthJSON(w, code, resp)
	}
}

// runCheck executes one check under checkTimeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: checkOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = checkFailed
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
