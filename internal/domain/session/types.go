// Package session holds the process-wide authentication state that every
// guarded route reads.
package session

import (
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// Status is the coarse state of a session.
type Status string

const (
	StatusUnauthenticated          Status = "unauthenticated"
	StatusAuthenticatedNoProfile   Status = "authenticated_no_profile"
	StatusAuthenticatedWithProfile Status = "authenticated_with_profile"
)

// Snapshot is an immutable copy of the session at one point in time.
// Empty strings and zero times stand for "null".
type Snapshot struct {
	IsAuthenticated bool
	AccessToken     string
	RefreshToken    string
	TokenExpiration time.Time
	User            *identity.UserProfile
	Loading         bool
	Error           string

	// Epoch identifies the session instance. It changes on every
	// SetTokens, ClearAuth and Restore.
	Epoch uint64

	ProfileInFlight bool
	RefreshInFlight bool
	LogoutInFlight  bool
}

// Status derives the state machine position. Loading is an overlay and is
// reported separately.
func (s Snapshot) Status() Status {
	switch {
	case !s.IsAuthenticated:
		return StatusUnauthenticated
	case s.User == nil:
		return StatusAuthenticatedNoProfile
	default:
		return StatusAuthenticatedWithProfile
	}
}

// Inconsistent reports the "authenticated without a token" state that must
// be repaired with a full clear.
func (s Snapshot) Inconsistent() bool {
	return s.IsAuthenticated && s.AccessToken == ""
}

// OpKind identifies one of the asynchronous session operations.
type OpKind int

const (
	OpProfile OpKind = iota
	OpRefresh
	OpLogout
)

// String returns the operation name used in logs and metrics.
func (k OpKind) String() string {
	switch k {
	case OpProfile:
		return "profile"
	case OpRefresh:
		return "refresh"
	case OpLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Ticket is handed out by State.Begin and must be presented when the
// operation resolves. A ticket from an earlier epoch is stale.
type Ticket struct {
	Kind  OpKind
	Epoch uint64
	// AccessToken and RefreshToken are the credentials the operation was
	// started with.
	AccessToken  string
	RefreshToken string
}
