// Package audit defines the session audit trail: one record per observed
// session transition.
package audit

import "time"

// EventType names a session transition.
type EventType string

const (
	// EventSessionStarted records a new session: an SSO hand-off, a
	// restore from storage or a recovery refresh.
	EventSessionStarted EventType = "session_started"
	// EventProfileLoaded records the user's profile becoming available.
	EventProfileLoaded EventType = "profile_loaded"
	// EventTokenRefreshed records a new access token within the same session.
	EventTokenRefreshed EventType = "token_refreshed"
	// EventSessionEnded records the session being cleared.
	EventSessionEnded EventType = "session_ended"
)

// Record is one entry in the audit trail. Tokens are never recorded; a
// fingerprint identifies them instead.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Event     EventType `json:"event"`
	// Epoch is the session instance the event belongs to.
	Epoch uint64 `json:"epoch"`

	TokenFingerprint string     `json:"token,omitempty"`
	TokenExpiresAt   *time.Time `json:"token_expires_at,omitempty"`
	UserID           string     `json:"user_id,omitempty"`
	UserEmail        string     `json:"user_email,omitempty"`

	// Reason explains a session end: "logout" or the error that ended it.
	Reason string `json:"reason,omitempty"`
}
