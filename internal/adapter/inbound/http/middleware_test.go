package http

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOriginProtection(t *testing.T) {
	handler := OriginProtection([]string{"https://portal.example.com/"})(markerHandler("next"))

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"GET from anywhere", http.MethodGet, "https://evil.example.com", http.StatusOK},
		{"POST without origin", http.MethodPost, "", http.StatusOK},
		{"POST same host", http.MethodPost, "http://dash.local:8080", http.StatusOK},
		{"POST localhost", http.MethodPost, "http://localhost:3000", http.StatusOK},
		{"POST loopback v6", http.MethodPost, "http://[::1]:3000", http.StatusOK},
		{"POST allowlisted", http.MethodPost, "https://portal.example.com", http.StatusOK},
		{"POST foreign", http.MethodPost, "https://evil.example.com", http.StatusForbidden},
		{"DELETE foreign", http.MethodDelete, "https://evil.example.com", http.StatusForbidden},
		{"POST null origin", http.MethodPost, "null", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://dash.local:8080/auth/logout", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seenID string
	var seenLogger *slog.Logger
	handler := RequestIDMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value(RequestIDKey).(string)
		seenLogger = LoggerFromContext(r.Context())
	}))

	t.Run("propagates incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seenID != "req-42" || rec.Header().Get("X-Request-ID") != "req-42" {
			t.Errorf("id = %q, header = %q", seenID, rec.Header().Get("X-Request-ID"))
		}
		if seenLogger == slog.Default() {
			t.Error("logger in context was not enriched")
		}
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seenID == "" || rec.Header().Get("X-Request-ID") != seenID {
			t.Errorf("id = %q, header = %q", seenID, rec.Header().Get("X-Request-ID"))
		}
	})
}
