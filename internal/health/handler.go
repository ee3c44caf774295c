package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const version = "0.1.0"

// Pinger is anything health can probe: the database, the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check represents the status of one dependency.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

type Response struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Handler probes every registered dependency. A nil dependency is reported as
// not configured without degrading the status: Redis is optional.
type Handler struct {
	checks   map[string]Pinger
	required map[string]bool
}

func NewHandler() *Handler {
	return &Handler{checks: make(map[string]Pinger), required: make(map[string]bool)}
}

func (h *Handler) Add(name string, p Pinger, required bool) *Handler {
	h.checks[name] = p
	h.required[name] = required
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(h.checks))
	allHealthy := true

	for name, p := range h.checks {
		if p == nil {
			checks[name] = Check{Status: "fail", Message: "not configured"}
			if h.required[name] {
				allHealthy = false
			}
			continue
		}
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
