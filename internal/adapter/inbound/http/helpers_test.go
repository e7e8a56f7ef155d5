package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

const testSSO = "https://sso.example.com"

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// markerHandler returns an http.Handler that writes a specific marker string.
// Used in routing tests to verify which handler received the request.
func markerHandler(marker string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", marker)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, marker)
	})
}

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func employeeProfile() *identity.UserProfile {
	return &identity.UserProfile{
		ID:    "u-1",
		Email: "ana@example.com",
		Name:  "Ana",
		Roles: []identity.Role{{Code: "EMP", Type: "employee", Active: true}},
	}
}

// fakeSessions stands in for the auth service. When profile is set a fetch
// resolves immediately; when fail is set it is rejected; otherwise it stays
// in flight.
type fakeSessions struct {
	state *session.State

	mu        sync.Mutex
	profile   *identity.UserProfile
	fail      error
	fetches   int
	logouts   int
	logoutErr error
}

func (f *fakeSessions) StartProfileFetch(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.state.Snapshot()
	if !snap.IsAuthenticated || snap.ProfileInFlight {
		return false
	}
	f.fetches++
	ticket := f.state.Begin(session.OpProfile)
	switch {
	case f.fail != nil:
		_ = f.state.Reject(ticket, f.fail)
	case f.profile != nil:
		_ = f.state.ResolveProfile(ticket, f.profile.Clone())
	}
	return true
}

func (f *fakeSessions) Logout(_ context.Context) error {
	f.mu.Lock()
	f.logouts++
	err := f.logoutErr
	f.mu.Unlock()
	f.state.ClearAuth()
	return err
}

func (f *fakeSessions) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeBoot is a startup gate controlled by the test.
type fakeBoot struct {
	ready chan struct{}
	once  sync.Once
}

func newFakeBoot(settled bool) *fakeBoot {
	b := &fakeBoot{ready: make(chan struct{})}
	if settled {
		b.settle()
	}
	return b
}

func (b *fakeBoot) settle() {
	b.once.Do(func() { close(b.ready) })
}

func (b *fakeBoot) Ready() <-chan struct{} { return b.ready }

func (b *fakeBoot) Initializing() bool {
	select {
	case <-b.ready:
		return false
	default:
		return true
	}
}
