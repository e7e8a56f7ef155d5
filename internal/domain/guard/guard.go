// Package guard gates protected content behind a valid, populated session.
//
// A Guard is mounted once per protected view (in the HTTP adapter, once per
// request). Each Render inspects the session and either grants access,
// asks the caller to wait, denies in place, or issues exactly one redirect
// to the external login surface.
package guard

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

// Outcome is what the caller should render.
type Outcome int

const (
	// OutcomeNone means a redirect is in flight; render nothing.
	OutcomeNone Outcome = iota
	// OutcomeWait means the session is still resolving; render a wait indicator.
	OutcomeWait
	// OutcomeUnauthorized means the session is valid but lacks the required role.
	OutcomeUnauthorized
	// OutcomeGranted means the protected content may be rendered.
	OutcomeGranted
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "redirect"
	case OutcomeWait:
		return "wait"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Phase is the position of a guard in its state machine.
type Phase int

const (
	PhaseResolving Phase = iota
	PhaseRedirecting
	PhaseUnauthorized
	PhaseGranted
)

// Navigator performs a full navigation to an external URL.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

// Navigate calls f(target).
func (f NavigatorFunc) Navigate(target string) { f(target) }

// ProfileLoader starts a profile fetch for the current session. It must
// mark the fetch in flight before returning and must not block on the
// network. It returns false when no fetch was started.
type ProfileLoader interface {
	StartProfileFetch(ctx context.Context) bool
}

// Guard is the per-mount route guard.
type Guard struct {
	state      *session.State
	profiles   ProfileLoader
	nav        Navigator
	loginBase  string
	authorizer Authorizer
	logger     *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// Option configures a Guard.
type Option func(*Guard)

// WithAuthorizer sets the permission check applied once the profile is
// resolved.
func WithAuthorizer(a Authorizer) Option {
	return func(g *Guard) {
		g.authorizer = a
	}
}

// WithRequireRole is shorthand for WithAuthorizer(RoleRequirement(role)).
// An empty role leaves the guard unrestricted.
func WithRequireRole(role string) Option {
	return func(g *Guard) {
		if role != "" {
			g.authorizer = RoleRequirement(role)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// New creates a Guard in the Resolving phase. ssoBaseURL is the base of the
// external login surface; the guard redirects to <ssoBaseURL>/login.
func New(state *session.State, profiles ProfileLoader, nav Navigator, ssoBaseURL string, opts ...Option) *Guard {
	g := &Guard{
		state:     state,
		profiles:  profiles,
		nav:       nav,
		loginBase: ssoBaseURL,
		logger:    slog.Default(),
		phase:     PhaseResolving,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Phase returns the current phase.
func (g *Guard) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Render evaluates the session for currentPath. Once the guard has issued
// a redirect it renders OutcomeNone forever and mutates nothing.
func (g *Guard) Render(ctx context.Context, currentPath string) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == PhaseRedirecting {
		return OutcomeNone
	}

	snap := g.state.Snapshot()

	if !snap.IsAuthenticated || snap.Inconsistent() {
		g.phase = PhaseRedirecting
		g.state.ClearAuth()
		target := LoginURL(g.loginBase, currentPath)
		g.logger.Debug("guard redirecting to login",
			"path", currentPath,
			"inconsistent", snap.Inconsistent(),
			"error", snap.Error,
		)
		g.nav.Navigate(target)
		return OutcomeNone
	}

	if snap.User == nil && !snap.ProfileInFlight && g.profiles != nil {
		g.profiles.StartProfileFetch(ctx)
	}
	if snap.User == nil || snap.Loading {
		g.phase = PhaseResolving
		return OutcomeWait
	}

	if g.authorizer != nil {
		ok, err := g.authorizer.Authorize(ctx, snap.User)
		if err != nil {
			g.logger.Warn("authorization check failed", "path", currentPath, "error", err)
		}
		if err != nil || !ok {
			g.phase = PhaseUnauthorized
			return OutcomeUnauthorized
		}
	}

	g.phase = PhaseGranted
	return OutcomeGranted
}

// Resolve renders repeatedly until the outcome is no longer OutcomeWait or
// ctx is done, re-rendering after every session transition. It returns the
// last outcome, which is OutcomeWait only if ctx ended first.
func (g *Guard) Resolve(ctx context.Context, currentPath string) Outcome {
	changes, unsubscribe := g.state.Subscribe()
	defer unsubscribe()

	for {
		out := g.Render(ctx, currentPath)
		if out != OutcomeWait {
			return out
		}
		select {
		case <-changes:
		case <-ctx.Done():
			return OutcomeWait
		}
	}
}

// LoginURL builds the external login URL. An empty path yields the bare
// login page.
func LoginURL(ssoBaseURL, currentPath string) string {
	base := strings.TrimRight(ssoBaseURL, "/") + "/login"
	if currentPath == "" {
		return base
	}
	return base + "?redirect=" + url.QueryEscape(currentPath)
}
