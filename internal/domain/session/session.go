package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// State is the single source of truth for authentication status.
// All mutation goes through its transition methods; each transition is
// applied atomically under one lock and then broadcast to subscribers.
// Create one per application instance with NewState; tests may create as
// many independent instances as they need.
type State struct {
	mu        sync.Mutex
	cur       Snapshot
	inflight  [3]int
	persister TokenPersister
	logger    *slog.Logger

	subs    map[int]chan struct{}
	nextSub int
}

// NewState creates an empty, unauthenticated State. persister may be nil
// when nothing should be written to durable storage.
func NewState(persister TokenPersister, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		persister: persister,
		logger:    logger,
		subs:      make(map[int]chan struct{}),
	}
}

// Snapshot returns a copy of the current session.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := s.cur
	snap.User = s.cur.User.Clone()
	snap.ProfileInFlight = s.inflight[OpProfile] > 0
	snap.RefreshInFlight = s.inflight[OpRefresh] > 0
	snap.LogoutInFlight = s.inflight[OpLogout] > 0
	snap.Loading = snap.ProfileInFlight || snap.RefreshInFlight || snap.LogoutInFlight
	return snap
}

// Subscribe returns a channel that receives a value after every
// transition. Notifications coalesce: a slow reader sees one pending
// signal, not one per transition. Call the returned func to unsubscribe.
func (s *State) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *State) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetTokens starts a new authenticated session with the given tokens,
// derives the expiry and persists both tokens.
func (s *State) SetTokens(accessToken, refreshToken string) {
	exp, _ := token.ExpiryOf(accessToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight = [3]int{}
	s.cur = Snapshot{
		IsAuthenticated: accessToken != "",
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		TokenExpiration: exp,
		Epoch:           s.cur.Epoch + 1,
	}
	s.persistLocked()
	s.logger.Debug("session tokens set",
		"token", token.Fingerprint(accessToken),
		"expires_at", exp,
		"epoch", s.cur.Epoch,
	)
	s.notifyLocked()
}

// ClearAuth resets the session to the empty unauthenticated state in one
// transition and clears durable storage. Calling it on an already clear
// session only re-clears storage.
func (s *State) ClearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked("")
}

func (s *State) clearLocked(errMsg string) {
	wasEmpty := s.isEmptyLocked() && errMsg == s.cur.Error
	if s.persister != nil {
		if err := s.persister.Clear(); err != nil {
			s.logger.Warn("failed to clear persisted tokens", "error", err)
		}
	}
	if wasEmpty {
		return
	}
	s.inflight = [3]int{}
	s.cur = Snapshot{
		Error: errMsg,
		Epoch: s.cur.Epoch + 1,
	}
	s.logger.Debug("session cleared", "epoch", s.cur.Epoch, "reason", errMsg)
	s.notifyLocked()
}

func (s *State) isEmptyLocked() bool {
	c := s.cur
	return !c.IsAuthenticated &&
		c.AccessToken == "" &&
		c.RefreshToken == "" &&
		c.TokenExpiration.IsZero() &&
		c.User == nil &&
		s.inflight == [3]int{}
}

// UpdateUserProfile sets the user without touching the tokens. It is
// ignored when the session is not authenticated.
func (s *State) UpdateUserProfile(p *identity.UserProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cur.IsAuthenticated {
		return false
	}
	s.cur.User = p.Clone()
	s.notifyLocked()
	return true
}

// Restore replaces the session wholesale with snap, starting a new epoch.
// Loading flags in snap are ignored and nothing is persisted. Used to
// hydrate from storage at startup.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight = [3]int{}
	s.cur = Snapshot{
		IsAuthenticated: snap.IsAuthenticated,
		AccessToken:     snap.AccessToken,
		RefreshToken:    snap.RefreshToken,
		TokenExpiration: snap.TokenExpiration,
		User:            snap.User.Clone(),
		Error:           snap.Error,
		Epoch:           s.cur.Epoch + 1,
	}
	s.notifyLocked()
}

// Begin marks an operation as pending: loading on, error cleared. The
// returned ticket carries the credentials to use and must be passed back
// to one of the Resolve methods or to Reject.
func (s *State) Begin(kind OpKind) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight[kind]++
	s.cur.Error = ""
	s.notifyLocked()
	return Ticket{
		Kind:         kind,
		Epoch:        s.cur.Epoch,
		AccessToken:  s.cur.AccessToken,
		RefreshToken: s.cur.RefreshToken,
	}
}

func (s *State) finishLocked(t Ticket) bool {
	if t.Epoch != s.cur.Epoch {
		return false
	}
	if s.inflight[t.Kind] > 0 {
		s.inflight[t.Kind]--
	}
	return true
}

// ResolveProfile applies a fetched profile. Returns ErrStaleTicket if the
// session changed since the fetch began.
func (s *State) ResolveProfile(t Ticket, p *identity.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.finishLocked(t) {
		return ErrStaleTicket
	}
	if s.cur.IsAuthenticated {
		s.cur.User = p.Clone()
	}
	s.notifyLocked()
	return nil
}

// ResolveRefresh applies a refreshed access token. An empty refreshToken
// keeps the current one. The session epoch is kept, so other in-flight
// operations for the same session stay valid.
func (s *State) ResolveRefresh(t Ticket, accessToken, refreshToken string) error {
	exp, _ := token.ExpiryOf(accessToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.finishLocked(t) {
		return ErrStaleTicket
	}
	s.cur.IsAuthenticated = accessToken != ""
	s.cur.AccessToken = accessToken
	if refreshToken != "" {
		s.cur.RefreshToken = refreshToken
	}
	s.cur.TokenExpiration = exp
	s.persistLocked()
	s.logger.Debug("session token refreshed",
		"token", token.Fingerprint(accessToken),
		"expires_at", exp,
	)
	s.notifyLocked()
	return nil
}

// ResolveLogout ends the session after a successful logout notification.
func (s *State) ResolveLogout(t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Epoch != s.cur.Epoch {
		return ErrStaleTicket
	}
	s.clearLocked("")
	return nil
}

// Reject records a failed operation. Every failure ends the session: a
// failed profile fetch or refresh proves the credentials are no longer
// valid, and a failed logout still removes local credentials. The error
// message survives the clear so it can be reported.
func (s *State) Reject(t Ticket, opErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Epoch != s.cur.Epoch {
		return ErrStaleTicket
	}
	msg := t.Kind.String() + " failed"
	if opErr != nil {
		msg = t.Kind.String() + ": " + opErr.Error()
	}
	s.clearLocked(msg)
	return nil
}

func (s *State) persistLocked() {
	if s.persister == nil {
		return
	}
	if s.cur.AccessToken == "" {
		if err := s.persister.Clear(); err != nil {
			s.logger.Warn("failed to clear persisted tokens", "error", err)
		}
		return
	}
	if err := s.persister.Save(s.cur.AccessToken, s.cur.RefreshToken); err != nil {
		s.logger.Warn("failed to persist tokens", "error", err)
	}
}

// ExpiresIn returns how long until the access token expires, relative to
// now. ok is false when no expiry is known.
func (s Snapshot) ExpiresIn(now time.Time) (d time.Duration, ok bool) {
	if s.TokenExpiration.IsZero() {
		return 0, false
	}
	return s.TokenExpiration.Sub(now), true
}
