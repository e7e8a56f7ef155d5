package service

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// URL query parameters carrying an SSO hand-off.
const (
	ParamSSOToken        = "sso_token"
	ParamSSORefreshToken = "sso_refresh_token"
)

// DefaultRefreshLeadTime is how long before expiry the access token is
// refreshed.
const DefaultRefreshLeadTime = 5 * time.Minute

// Location is the current address of the protected view. Replace rewrites
// it in place without adding a history entry.
type Location interface {
	URL() *url.URL
	Replace(u *url.URL)
}

// TokenLoader hydrates persisted tokens. Implemented by *token.Store.
type TokenLoader interface {
	Load() token.Result
}

// SessionOps are the network-bound operations the bootstrapper triggers.
// Implemented by *AuthService.
type SessionOps interface {
	StartProfileFetch(ctx context.Context) bool
	RefreshToken(ctx context.Context) error
}

// BootstrapConfig configures a Bootstrapper.
type BootstrapConfig struct {
	// RefreshLeadTime defaults to DefaultRefreshLeadTime.
	RefreshLeadTime time.Duration
	// ReuseAccessAsRefresh stores an SSO access token as the refresh token
	// when the hand-off carries no separate refresh token.
	ReuseAccessAsRefresh bool
}

// Bootstrapper brings the session to a consistent, populated condition at
// startup and keeps the access token fresh while it runs.
type Bootstrapper struct {
	state  *session.State
	tokens TokenLoader
	ops    SessionOps
	logger *slog.Logger
	cfg    BootstrapConfig

	// Overridable in tests.
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	cancelTimer context.CancelFunc
	timerID     uint64
	timerExp    time.Time
	nextRefresh time.Time
	fetchedFor  string

	ssoMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

// NewBootstrapper creates a Bootstrapper. Call Start to run it.
func NewBootstrapper(state *session.State, tokens TokenLoader, ops SessionOps, logger *slog.Logger, cfg BootstrapConfig) *Bootstrapper {
	if cfg.RefreshLeadTime <= 0 {
		cfg.RefreshLeadTime = DefaultRefreshLeadTime
	}
	return &Bootstrapper{
		state:  state,
		tokens: tokens,
		ops:    ops,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		after:  time.After,
		ready:  make(chan struct{}),
	}
}

// Start hydrates the session from persisted tokens, attempts one recovery
// refresh if only a stale refresh token was found, and starts reconciling
// the session in the background. It returns once the reconcile loop runs;
// use Ready to wait for the startup sequence to settle.
func (b *Bootstrapper) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	res := b.tokens.Load()
	switch {
	case res.IsAuthenticated:
		b.state.Restore(session.Snapshot{
			IsAuthenticated: true,
			AccessToken:     res.AccessToken,
			RefreshToken:    res.RefreshToken,
			TokenExpiration: res.TokenExpiration,
		})
		b.logger.Info("session restored from storage", "expires_at", res.TokenExpiration)
	case res.StaleRefreshToken != "":
		b.logger.Info("stored access token expired, attempting refresh")
		b.state.Restore(session.Snapshot{RefreshToken: res.StaleRefreshToken})
		if err := b.ops.RefreshToken(context.WithoutCancel(ctx)); err != nil {
			b.logger.Info("recovery refresh failed", "error", err)
		}
	default:
		b.logger.Debug("no stored session")
	}

	changes, unsubscribe := b.state.Subscribe()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer unsubscribe()
		for {
			b.reconcile(ctx)
			select {
			case <-changes:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the refresh timer and the reconcile loop and waits for them
// to exit. A refresh already talking to the backend is allowed to finish.
func (b *Bootstrapper) Stop() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.cancelTimerLocked()
	b.mu.Unlock()
	b.wg.Wait()
}

// Ready is closed once the startup sequence has settled: hydration done and
// no profile fetch or refresh in flight.
func (b *Bootstrapper) Ready() <-chan struct{} {
	return b.ready
}

// Initializing reports whether the startup sequence is still running.
func (b *Bootstrapper) Initializing() bool {
	select {
	case <-b.ready:
		return false
	default:
		return true
	}
}

// NextRefresh returns when the pending refresh fires. ok is false when no
// refresh is scheduled.
func (b *Bootstrapper) NextRefresh() (at time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelTimer == nil {
		return time.Time{}, false
	}
	return b.nextRefresh, true
}

func (b *Bootstrapper) reconcile(ctx context.Context) {
	snap := b.state.Snapshot()

	b.mu.Lock()
	switch {
	case !snap.IsAuthenticated || snap.TokenExpiration.IsZero():
		b.cancelTimerLocked()
	case b.cancelTimer == nil || !b.timerExp.Equal(snap.TokenExpiration):
		b.scheduleRefreshLocked(ctx, snap.TokenExpiration)
	}

	fetch := false
	if snap.IsAuthenticated && snap.AccessToken != "" {
		fp := token.Fingerprint(snap.AccessToken)
		if fp != b.fetchedFor {
			b.fetchedFor = fp
			fetch = true
		}
	} else {
		b.fetchedFor = ""
	}
	b.mu.Unlock()

	if fetch && !snap.ProfileInFlight && b.ops.StartProfileFetch(ctx) {
		// The fetch's Begin wakes the loop again; readiness is decided then.
		return
	}

	if !snap.Loading {
		b.readyOnce.Do(func() {
			close(b.ready)
			b.logger.Debug("session bootstrap settled", "status", snap.Status())
		})
	}
}

// scheduleRefreshLocked replaces any pending refresh with one that fires
// RefreshLeadTime before exp, or immediately if that moment has passed.
// Caller must hold b.mu.
func (b *Bootstrapper) scheduleRefreshLocked(ctx context.Context, exp time.Time) {
	b.cancelTimerLocked()

	now := b.now()
	delay := exp.Sub(now) - b.cfg.RefreshLeadTime
	if delay < 0 {
		delay = 0
	}

	timerCtx, cancel := context.WithCancel(ctx)
	b.cancelTimer = cancel
	b.timerID++
	id := b.timerID
	b.timerExp = exp
	b.nextRefresh = now.Add(delay)
	fire := b.after(delay)

	b.logger.Debug("refresh scheduled", "delay", delay, "expires_at", exp)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-fire:
		case <-timerCtx.Done():
			return
		}

		b.mu.Lock()
		current := b.timerID == id && timerCtx.Err() == nil
		b.mu.Unlock()
		if !current {
			return
		}
		if err := b.ops.RefreshToken(context.WithoutCancel(timerCtx)); err != nil {
			b.logger.Info("scheduled refresh failed", "error", err)
		}
	}()
}

// cancelTimerLocked stops the pending refresh, if any. Caller must hold b.mu.
func (b *Bootstrapper) cancelTimerLocked() {
	if b.cancelTimer == nil {
		return
	}
	b.cancelTimer()
	b.cancelTimer = nil
	b.timerExp = time.Time{}
	b.nextRefresh = time.Time{}
}

// CaptureSSO consumes an SSO hand-off from loc. If the URL carries
// sso_token and the session is not authenticated, the tokens are stored.
// The SSO parameters are always stripped and the URL replaced. It returns
// true when loc was rewritten.
func (b *Bootstrapper) CaptureSSO(loc Location) bool {
	u := loc.URL()
	if u == nil {
		return false
	}
	q := u.Query()
	if !q.Has(ParamSSOToken) && !q.Has(ParamSSORefreshToken) {
		return false
	}

	access := q.Get(ParamSSOToken)
	refresh := q.Get(ParamSSORefreshToken)

	b.ssoMu.Lock()
	if access != "" && !b.state.Snapshot().IsAuthenticated {
		if refresh == "" && b.cfg.ReuseAccessAsRefresh {
			b.logger.Warn("SSO hand-off carried no refresh token, reusing access token as refresh credential")
			refresh = access
		}
		b.state.SetTokens(access, refresh)
		b.logger.Info("session captured from SSO hand-off", "token", token.Fingerprint(access))
	}
	b.ssoMu.Unlock()

	q.Del(ParamSSOToken)
	q.Del(ParamSSORefreshToken)
	cleaned := *u
	cleaned.RawQuery = q.Encode()
	loc.Replace(&cleaned)
	return true
}
