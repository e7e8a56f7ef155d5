package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// mockPersister records Save/Clear calls.
type mockPersister struct {
	mu      sync.Mutex
	access  string
	refresh string
	saves   int
	clears  int
}

func (m *mockPersister) Save(accessToken, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh = accessToken, refreshToken
	m.saves++
	return nil
}

func (m *mockPersister) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh = "", ""
	m.clears++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func testProfile() *identity.UserProfile {
	return &identity.UserProfile{
		ID:    "u-1",
		Email: "ana@example.com",
		Name:  "Ana",
		Roles: []identity.Role{{Code: "EMP", Type: "employee", Active: true}},
	}
}

func TestState_InitiallyEmpty(t *testing.T) {
	s := NewState(nil, testLogger())
	snap := s.Snapshot()
	if snap.IsAuthenticated || snap.AccessToken != "" || snap.User != nil || snap.Loading || snap.Error != "" {
		t.Errorf("new State not empty: %+v", snap)
	}
	if snap.Status() != StatusUnauthenticated {
		t.Errorf("Status() = %q, want %q", snap.Status(), StatusUnauthenticated)
	}
}

func TestState_SetTokens(t *testing.T) {
	p := &mockPersister{}
	s := NewState(p, testLogger())
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := mintToken(t, exp)

	s.SetTokens(access, "refresh-1")

	snap := s.Snapshot()
	if !snap.IsAuthenticated {
		t.Fatal("IsAuthenticated = false after SetTokens")
	}
	if snap.AccessToken != access || snap.RefreshToken != "refresh-1" {
		t.Errorf("tokens = (%q, %q)", snap.AccessToken, snap.RefreshToken)
	}
	if !snap.TokenExpiration.Equal(exp) {
		t.Errorf("TokenExpiration = %v, want %v", snap.TokenExpiration, exp)
	}
	if snap.Status() != StatusAuthenticatedNoProfile {
		t.Errorf("Status() = %q, want %q", snap.Status(), StatusAuthenticatedNoProfile)
	}
	if p.saves != 1 || p.access != access || p.refresh != "refresh-1" {
		t.Errorf("persister saves=%d access=%q refresh=%q", p.saves, p.access, p.refresh)
	}
}

func TestState_SetTokens_UndecodableTokenHasNoExpiry(t *testing.T) {
	s := NewState(nil, testLogger())
	s.SetTokens("opaque-sso-token", "opaque-sso-token")
	snap := s.Snapshot()
	if !snap.IsAuthenticated {
		t.Error("IsAuthenticated should be true")
	}
	if !snap.TokenExpiration.IsZero() {
		t.Errorf("TokenExpiration = %v, want zero", snap.TokenExpiration)
	}
}

func TestState_SetTokens_EmptyClearsStorage(t *testing.T) {
	p := &mockPersister{}
	s := NewState(p, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "refresh-1")

	s.SetTokens("", "")

	if s.Snapshot().IsAuthenticated {
		t.Error("IsAuthenticated = true after empty SetTokens")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clears != 1 || p.access != "" || p.refresh != "" {
		t.Errorf("persister clears=%d access=%q refresh=%q; stored tokens would survive a restart", p.clears, p.access, p.refresh)
	}
}

func TestState_ClearAuth_ResetsEverything(t *testing.T) {
	p := &mockPersister{}
	s := NewState(p, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")
	s.UpdateUserProfile(testProfile())
	s.Begin(OpProfile) // mid-fetch

	s.ClearAuth()

	snap := s.Snapshot()
	want := Snapshot{Epoch: snap.Epoch}
	if snap.IsAuthenticated != want.IsAuthenticated ||
		snap.AccessToken != "" || snap.RefreshToken != "" ||
		!snap.TokenExpiration.IsZero() || snap.User != nil ||
		snap.Loading || snap.Error != "" ||
		snap.ProfileInFlight || snap.RefreshInFlight || snap.LogoutInFlight {
		t.Errorf("ClearAuth() left state = %+v", snap)
	}
	if p.clears != 1 {
		t.Errorf("persister clears = %d, want 1", p.clears)
	}
}

func TestState_ClearAuth_Idempotent(t *testing.T) {
	s := NewState(&mockPersister{}, testLogger())
	s.ClearAuth()
	first := s.Snapshot()
	s.ClearAuth()
	second := s.Snapshot()
	if first.Epoch != second.Epoch {
		t.Errorf("clearing a clear session changed epoch %d -> %d", first.Epoch, second.Epoch)
	}
}

func TestState_UpdateUserProfile(t *testing.T) {
	s := NewState(nil, testLogger())

	if s.UpdateUserProfile(testProfile()) {
		t.Error("UpdateUserProfile() on unauthenticated session should be ignored")
	}

	access := mintToken(t, time.Now().Add(time.Hour))
	s.SetTokens(access, "r")
	if !s.UpdateUserProfile(testProfile()) {
		t.Fatal("UpdateUserProfile() returned false")
	}
	snap := s.Snapshot()
	if snap.User == nil || snap.User.ID != "u-1" {
		t.Fatalf("User = %+v", snap.User)
	}
	if snap.AccessToken != access {
		t.Error("UpdateUserProfile() altered tokens")
	}
	if snap.Status() != StatusAuthenticatedWithProfile {
		t.Errorf("Status() = %q", snap.Status())
	}

	snap.User.Name = "mutated"
	if s.Snapshot().User.Name != "Ana" {
		t.Error("Snapshot() leaked a mutable profile")
	}
}

func TestState_RequestLifecycle(t *testing.T) {
	s := NewState(nil, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")

	ticket := s.Begin(OpProfile)
	snap := s.Snapshot()
	if !snap.Loading || !snap.ProfileInFlight {
		t.Errorf("pending: Loading=%v ProfileInFlight=%v", snap.Loading, snap.ProfileInFlight)
	}
	if snap.Error != "" {
		t.Errorf("pending should clear error, got %q", snap.Error)
	}
	if ticket.AccessToken != snap.AccessToken {
		t.Error("ticket should carry the current access token")
	}

	if err := s.ResolveProfile(ticket, testProfile()); err != nil {
		t.Fatalf("ResolveProfile() error: %v", err)
	}
	snap = s.Snapshot()
	if snap.Loading || snap.ProfileInFlight {
		t.Error("success should clear loading")
	}
	if snap.User == nil {
		t.Error("success should apply profile")
	}
}

func TestState_RejectProfileClearsSession(t *testing.T) {
	p := &mockPersister{}
	s := NewState(p, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")

	ticket := s.Begin(OpProfile)
	if err := s.Reject(ticket, errors.New("401 unauthorized")); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}

	snap := s.Snapshot()
	if snap.IsAuthenticated || snap.AccessToken != "" || snap.Loading {
		t.Errorf("Reject() should clear session, got %+v", snap)
	}
	if snap.Error != "profile: 401 unauthorized" {
		t.Errorf("Error = %q", snap.Error)
	}
	if p.clears == 0 {
		t.Error("Reject() should clear persisted tokens")
	}
}

func TestState_RejectRefreshClearsSession(t *testing.T) {
	s := NewState(nil, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")
	s.UpdateUserProfile(testProfile())

	ticket := s.Begin(OpRefresh)
	_ = s.Reject(ticket, ErrNoRefreshToken)

	snap := s.Snapshot()
	if snap.Status() != StatusUnauthenticated {
		t.Errorf("Status() = %q after refresh failure", snap.Status())
	}
	if snap.Error == "" {
		t.Error("Error should be recorded")
	}
}

func TestState_StaleResultDoesNotResurrect(t *testing.T) {
	s := NewState(nil, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")

	profileTicket := s.Begin(OpProfile)
	refreshTicket := s.Begin(OpRefresh)
	s.ClearAuth()

	if err := s.ResolveProfile(profileTicket, testProfile()); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("ResolveProfile() error = %v, want ErrStaleTicket", err)
	}
	newToken := mintToken(t, time.Now().Add(2*time.Hour))
	if err := s.ResolveRefresh(refreshTicket, newToken, ""); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("ResolveRefresh() error = %v, want ErrStaleTicket", err)
	}
	if err := s.Reject(profileTicket, errors.New("late")); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("Reject() error = %v, want ErrStaleTicket", err)
	}

	snap := s.Snapshot()
	if snap.IsAuthenticated || snap.User != nil || snap.AccessToken != "" || snap.Error != "" {
		t.Errorf("stale results resurrected session: %+v", snap)
	}
}

func TestState_StaleAcrossNewSession(t *testing.T) {
	s := NewState(nil, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r1")
	old := s.Begin(OpProfile)

	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r2")
	if err := s.ResolveProfile(old, testProfile()); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("profile from previous session applied: err = %v", err)
	}
	if s.Snapshot().User != nil {
		t.Error("previous session profile leaked into new session")
	}
}

func TestState_ResolveRefreshKeepsEpochAndProfile(t *testing.T) {
	p := &mockPersister{}
	s := NewState(p, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Minute)), "r1")
	s.UpdateUserProfile(testProfile())
	epoch := s.Snapshot().Epoch

	ticket := s.Begin(OpRefresh)
	newExp := time.Now().Add(time.Hour).Truncate(time.Second)
	newToken := mintToken(t, newExp)
	if err := s.ResolveRefresh(ticket, newToken, ""); err != nil {
		t.Fatalf("ResolveRefresh() error: %v", err)
	}

	snap := s.Snapshot()
	if snap.Epoch != epoch {
		t.Errorf("Epoch changed on refresh: %d -> %d", epoch, snap.Epoch)
	}
	if snap.AccessToken != newToken || snap.RefreshToken != "r1" {
		t.Errorf("tokens = (%q, %q)", snap.AccessToken, snap.RefreshToken)
	}
	if !snap.TokenExpiration.Equal(newExp) {
		t.Errorf("TokenExpiration = %v, want %v", snap.TokenExpiration, newExp)
	}
	if snap.User == nil {
		t.Error("refresh should keep the profile")
	}
	if p.access != newToken {
		t.Error("refreshed token not persisted")
	}
}

func TestState_ResolveLogout(t *testing.T) {
	s := NewState(nil, testLogger())
	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")
	ticket := s.Begin(OpLogout)
	if err := s.ResolveLogout(ticket); err != nil {
		t.Fatalf("ResolveLogout() error: %v", err)
	}
	if s.Snapshot().IsAuthenticated {
		t.Error("session still authenticated after logout")
	}
}

func TestState_RestoreInconsistent(t *testing.T) {
	s := NewState(nil, testLogger())
	s.Restore(Snapshot{IsAuthenticated: true})
	snap := s.Snapshot()
	if !snap.Inconsistent() {
		t.Errorf("Inconsistent() = false for %+v", snap)
	}
}

func TestState_Subscribe(t *testing.T) {
	s := NewState(nil, testLogger())
	ch, unsubscribe := s.Subscribe()

	s.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r")
	s.UpdateUserProfile(testProfile())

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after transition")
	}
	// Two transitions coalesce into one pending signal.
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}

	unsubscribe()
	unsubscribe()
	s.ClearAuth()
	select {
	case <-ch:
		t.Fatal("notification after unsubscribe")
	default:
	}
}

func TestState_ConcurrentTransitions(t *testing.T) {
	s := NewState(&mockPersister{}, testLogger())
	access := mintToken(t, time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.SetTokens(access, "r")
		}()
		go func() {
			defer wg.Done()
			tk := s.Begin(OpProfile)
			_ = s.ResolveProfile(tk, testProfile())
		}()
		go func() {
			defer wg.Done()
			s.ClearAuth()
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Inconsistent() {
		t.Errorf("concurrent transitions left inconsistent state: %+v", snap)
	}
	if !snap.IsAuthenticated && snap.User != nil {
		t.Errorf("unauthenticated session holds a profile: %+v", snap)
	}
}

func TestOpKind_String(t *testing.T) {
	tests := map[OpKind]string{
		OpProfile:  "profile",
		OpRefresh:  "refresh",
		OpLogout:   "logout",
		OpKind(42): "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("OpKind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
