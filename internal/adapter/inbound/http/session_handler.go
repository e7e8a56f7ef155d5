package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/audit"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/guard"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// SessionService runs session operations on behalf of HTTP clients.
// Implemented by *service.AuthService.
type SessionService interface {
	guard.ProfileLoader
	Logout(ctx context.Context) error
}

// sessionResponse is the session contract dashboards read.
type sessionResponse struct {
	IsAuthenticated bool                  `json:"isAuthenticated"`
	User            *identity.UserProfile `json:"user"`
	AccessToken     *string               `json:"accessToken"`
	Loading         bool                  `json:"loading"`
	Error           *string               `json:"error"`
	Status          string                `json:"status"`
	ExpiresAt       *time.Time            `json:"expiresAt,omitempty"`
}

// sessionHandler serves GET /auth/session.
func sessionHandler(state SessionReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := state.Snapshot()
		resp := sessionResponse{
			IsAuthenticated: snap.IsAuthenticated,
			User:            snap.User,
			Loading:         snap.Loading,
			Status:          string(snap.Status()),
		}
		if snap.AccessToken != "" {
			tok := snap.AccessToken
			resp.AccessToken = &tok
		}
		if snap.Error != "" {
			msg := snap.Error
			resp.Error = &msg
		}
		if !snap.TokenExpiration.IsZero() {
			exp := snap.TokenExpiration
			resp.ExpiresAt = &exp
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	})
}

// logoutHandler serves POST /auth/logout. The local session is always
// cleared; a failed backend notification is only logged. Only POST is
// accepted: origin checks do not run on safe methods.
func logoutHandler(sessions SessionService, ssoBaseURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		logger := LoggerFromContext(r.Context())
		if err := sessions.Logout(r.Context()); err != nil {
			logger.Warn("logout completed locally", "error", err)
		}

		loginURL := guard.LoginURL(ssoBaseURL, "")
		w.Header().Set("Cache-Control", "no-store")
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]any{
				"logged_out": true,
				"login_url":  loginURL,
			})
			return
		}
		http.Redirect(w, r, loginURL, http.StatusSeeOther)
	})
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// auditHandler serves GET /auth/audit: the latest session audit records,
// newest first. ?limit=N caps the count.
func auditHandler(log audit.RecentReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := defaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxAuditLimit)
		}

		events := log.Recent(limit)
		if events == nil {
			events = []audit.Record{}
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	})
}
