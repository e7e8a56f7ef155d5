package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/guard"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

// SessionReader exposes the current session. Implemented by *session.State.
type SessionReader interface {
	Snapshot() session.Snapshot
}

// Bootstrap reports whether startup hydration is still running.
// Implemented by *service.Bootstrapper.
type Bootstrap interface {
	Initializing() bool
	Ready() <-chan struct{}
}

// outcomeInitializing labels requests answered before startup settled.
const outcomeInitializing = "initializing"

// GuardConfig configures GuardMiddleware.
type GuardConfig struct {
	State    *session.State
	Profiles guard.ProfileLoader
	// Boot, when set, holds requests until startup hydration settles so a
	// session being recovered is not mistaken for a signed-out one.
	Boot       Bootstrap
	SSOBaseURL string
	// Authorizer gates content once the profile is resolved. Nil admits
	// any authenticated user.
	Authorizer guard.Authorizer
	// ResolveTimeout bounds how long a request waits for the session to
	// settle before a wait page is served.
	ResolveTimeout time.Duration
	DefaultPath    string
	Metrics        *Metrics
}

// GuardMiddleware mounts a fresh route guard for every request and maps its
// outcome to an HTTP response.
func GuardMiddleware(cfg GuardConfig) func(http.Handler) http.Handler {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 5 * time.Second
	}
	if cfg.DefaultPath == "" {
		cfg.DefaultPath = "/"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := LoggerFromContext(r.Context())
			ctx, cancel := context.WithTimeout(r.Context(), cfg.ResolveTimeout)
			defer cancel()

			if cfg.Boot != nil && cfg.Boot.Initializing() {
				select {
				case <-cfg.Boot.Ready():
				case <-ctx.Done():
					cfg.observe(outcomeInitializing)
					writeWait(w, r, "Restoring your session…")
					return
				}
			}

			var target string
			nav := guard.NavigatorFunc(func(u string) { target = u })

			opts := []guard.Option{guard.WithLogger(logger)}
			if cfg.Authorizer != nil {
				opts = append(opts, guard.WithAuthorizer(cfg.Authorizer))
			}
			g := guard.New(cfg.State, cfg.Profiles, nav, cfg.SSOBaseURL, opts...)

			currentPath := r.URL.RequestURI()
			out := g.Resolve(ctx, currentPath)
			cfg.observe(out.String())

			switch out {
			case guard.OutcomeGranted:
				next.ServeHTTP(w, r)
			case guard.OutcomeUnauthorized:
				logger.Info("access denied", "path", r.URL.Path)
				writeUnauthorized(w, r, cfg.DefaultPath)
			case guard.OutcomeWait:
				writeWait(w, r, "Loading your profile…")
			default:
				if target == "" {
					target = guard.LoginURL(cfg.SSOBaseURL, currentPath)
				}
				writeLoginRedirect(w, r, target)
			}
		})
	}
}

func (cfg GuardConfig) observe(outcome string) {
	if cfg.Metrics != nil {
		cfg.Metrics.GuardOutcomes.WithLabelValues(outcome).Inc()
	}
}

// writeLoginRedirect sends browsers to the SSO login page. API clients get
// a 401 carrying the login URL instead of a redirect they cannot follow.
func writeLoginRedirect(w http.ResponseWriter, r *http.Request, loginURL string) {
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":     "unauthenticated",
			"login_url": loginURL,
		})
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}
