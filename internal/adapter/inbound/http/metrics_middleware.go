package http

import (
	"net/http"
	"strings"
	"time"
)

// Request areas used as the "area" metric label.
const (
	areaAuth      = "auth"
	areaAPI       = "api"
	areaDashboard = "dashboard"
)

// MetricsMiddleware records request_duration_seconds and requests_total
// by area (see requestArea) and response class. Login redirects count as
// 3xx and wait pages as 5xx. Operational endpoints are not counted.
func MetricsMiddleware(metrics *Metrics, apiPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/metrics", "/health", "/favicon.ico":
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			area := requestArea(r.URL.Path, apiPrefix)
			metrics.RequestDuration.WithLabelValues(area).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(area, statusClass(wrapped.status)).Inc()
		})
	}
}

// requestArea maps a path to auth, api or dashboard. apiPrefix is empty
// when the backend proxy is off.
func requestArea(path, apiPrefix string) string {
	switch {
	case strings.HasPrefix(path, "/auth/"):
		return areaAuth
	case apiPrefix != "" && strings.HasPrefix(path, apiPrefix):
		return areaAPI
	default:
		return areaDashboard
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streamed backend responses flowing through the proxy.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
