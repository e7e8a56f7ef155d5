package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/audit"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

type memoryAuditStore struct {
	mu      sync.Mutex
	records []audit.Record
	flushes int
	fail    error
}

func (s *memoryAuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *memoryAuditStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memoryAuditStore) Close() error { return nil }

func (s *memoryAuditStore) events() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.EventType, len(s.records))
	for i, r := range s.records {
		out[i] = r.Event
	}
	return out
}

func eventsOf(records []audit.Record) []audit.EventType {
	out := make([]audit.EventType, len(records))
	for i, r := range records {
		out[i] = r.Event
	}
	return out
}

func sameEvents(a, b []audit.EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiffSnapshots(t *testing.T) {
	now := time.Now()
	user := baseProfile()
	live := session.Snapshot{IsAuthenticated: true, AccessToken: "a1", RefreshToken: "r1", Epoch: 2}
	withUser := live
	withUser.User = user
	refreshed := withUser
	refreshed.AccessToken = "a2"
	replaced := session.Snapshot{IsAuthenticated: true, AccessToken: "b1", Epoch: 3}

	tests := []struct {
		name string
		prev session.Snapshot
		cur  session.Snapshot
		want []audit.EventType
	}{
		{"nothing", session.Snapshot{}, session.Snapshot{}, nil},
		{"sso hand-off", session.Snapshot{Epoch: 1}, live, []audit.EventType{audit.EventSessionStarted}},
		{"profile arrives", live, withUser, []audit.EventType{audit.EventProfileLoaded}},
		{"start and profile coalesced", session.Snapshot{Epoch: 1}, withUser, []audit.EventType{audit.EventSessionStarted, audit.EventProfileLoaded}},
		{"refresh", withUser, refreshed, []audit.EventType{audit.EventTokenRefreshed}},
		{"logout", refreshed, session.Snapshot{Epoch: 3}, []audit.EventType{audit.EventSessionEnded}},
		{"replaced", withUser, replaced, []audit.EventType{audit.EventSessionEnded, audit.EventSessionStarted}},
		{"loading flag only", live, func() session.Snapshot { s := live; s.ProfileInFlight = true; return s }(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eventsOf(DiffSnapshots(tt.prev, tt.cur, now))
			if !sameEvents(got, tt.want) {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiffSnapshots_EndReason(t *testing.T) {
	live := session.Snapshot{IsAuthenticated: true, AccessToken: "a1", Epoch: 2, User: baseProfile()}

	tests := []struct {
		name string
		cur  session.Snapshot
		want string
	}{
		{"plain clear", session.Snapshot{Epoch: 3}, "cleared"},
		{"failure", session.Snapshot{Epoch: 3, Error: "refresh rejected"}, "refresh rejected"},
		{"new session", session.Snapshot{IsAuthenticated: true, AccessToken: "b1", Epoch: 3}, "replaced"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := DiffSnapshots(live, tt.cur, time.Now())
			if len(recs) == 0 || recs[0].Event != audit.EventSessionEnded {
				t.Fatalf("records = %+v", recs)
			}
			if recs[0].Reason != tt.want {
				t.Errorf("Reason = %q, want %q", recs[0].Reason, tt.want)
			}
			if recs[0].UserID != "u-1" || recs[0].Epoch != 2 {
				t.Errorf("ended record should describe the old session: %+v", recs[0])
			}
		})
	}
}

func TestDiffSnapshots_NeverRecordsTokens(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	cur := session.Snapshot{IsAuthenticated: true, AccessToken: "secret-access", RefreshToken: "secret-refresh", TokenExpiration: exp, Epoch: 1}

	recs := DiffSnapshots(session.Snapshot{}, cur, time.Now())
	if len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].TokenFingerprint == "" || recs[0].TokenFingerprint == "secret-access" {
		t.Errorf("TokenFingerprint = %q", recs[0].TokenFingerprint)
	}
	if recs[0].TokenExpiresAt == nil || !recs[0].TokenExpiresAt.Equal(exp) {
		t.Errorf("TokenExpiresAt = %v, want %v", recs[0].TokenExpiresAt, exp)
	}
}

func TestSessionJournal_RecordsLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	state := session.NewState(nil, testLogger())
	store := &memoryAuditStore{}
	j := NewSessionJournal(state, store, testLogger())
	j.Start(context.Background())

	state.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "ref")
	eventually(t, func() bool { return len(store.events()) == 1 }, "session start not recorded")

	state.UpdateUserProfile(baseProfile())
	eventually(t, func() bool { return len(store.events()) == 2 }, "profile not recorded")

	state.ClearAuth()
	eventually(t, func() bool { return len(store.events()) == 3 }, "session end not recorded")

	j.Stop()

	want := []audit.EventType{audit.EventSessionStarted, audit.EventProfileLoaded, audit.EventSessionEnded}
	if got := store.events(); !sameEvents(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if store.flushes != 1 {
		t.Errorf("flushes = %d, want 1", store.flushes)
	}
}

func TestSessionJournal_RecordsLiveSessionAtStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	state := session.NewState(nil, testLogger())
	state.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "ref")
	store := &memoryAuditStore{}
	j := NewSessionJournal(state, store, testLogger())

	j.Start(context.Background())
	j.Start(context.Background())
	eventually(t, func() bool { return len(store.events()) == 1 }, "live session not recorded")
	j.Stop()

	if got := store.events(); got[0] != audit.EventSessionStarted {
		t.Errorf("events = %v", got)
	}
}

func TestSessionJournal_StoreFailureIsNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	state := session.NewState(nil, testLogger())
	store := &memoryAuditStore{fail: errors.New("disk full")}
	j := NewSessionJournal(state, store, testLogger())
	j.Start(context.Background())

	state.SetTokens("tok", "ref")
	state.ClearAuth()
	j.Stop()

	if state.Snapshot().IsAuthenticated {
		t.Error("session state affected by journal failure")
	}
}
