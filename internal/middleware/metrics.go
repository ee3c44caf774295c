package myMiddleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"sidehustle-chat/internal/metrics"
)

// Metrics records Prometheus request counters and latencies.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses ids so metrics stay low-cardinality.
func normalizePath(path string) string {
	patterns := []struct {
		prefix, normalized string
		suffixes           []string
	}{
		{"/api/conversations/", "/api/conversations/:id", []string{"/messages", "/read", "/archive", "/unread"}},
		{"/api/messages/", "/api/messages/:id", nil},
	}
	for _, p := range patterns {
		if !strings.HasPrefix(path, p.prefix) || len(path) == len(p.prefix) {
			continue
		}
		for _, s := range p.suffixes {
			if strings.HasSuffix(path, s) {
				return p.normalized + s
			}
		}
		return p.normalized
	}
	return path
}
