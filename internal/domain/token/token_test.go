package token

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type mapStorage struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	deletes int
}

func newMapStorage() *mapStorage {
	return &mapStorage{data: make(map[string]string)}
}

func (m *mapStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, key)
	return nil
}

func (m *mapStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestExpiryOf(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).
		SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		wantOK  bool
		wantExp time.Time
	}{
		{name: "valid", token: mintToken(t, exp), wantOK: true, wantExp: exp},
		{name: "empty", token: "", wantOK: false},
		{name: "garbage", token: "not-a-jwt", wantOK: false},
		{name: "three bad segments", token: "a.b.c", wantOK: false},
		{name: "no exp claim", token: noExp, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExpiryOf(tt.token)
			if ok != tt.wantOK {
				t.Fatalf("ExpiryOf() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.wantExp) {
				t.Errorf("ExpiryOf() = %v, want %v", got, tt.wantExp)
			}
		})
	}
}

func TestStore_Load_Valid(t *testing.T) {
	storage := newMapStorage()
	store := NewStore(storage, testLogger())

	access := mintToken(t, time.Now().Add(time.Hour))
	if err := store.Save(access, "refresh-1"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := store.Load()
	if !got.IsAuthenticated {
		t.Fatal("Load() IsAuthenticated = false, want true")
	}
	if got.AccessToken != access {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, access)
	}
	if got.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want refresh-1", got.RefreshToken)
	}
	if got.TokenExpiration.IsZero() {
		t.Error("TokenExpiration should be set")
	}
	if got.StaleRefreshToken != "" {
		t.Errorf("StaleRefreshToken = %q, want empty", got.StaleRefreshToken)
	}
}

func TestStore_Load_ExpiredPurgesBoth(t *testing.T) {
	for _, offset := range []time.Duration{-time.Hour, -time.Second, 0} {
		t.Run(offset.String(), func(t *testing.T) {
			storage := newMapStorage()
			store := NewStore(storage, testLogger())
			now := time.Now()
			store.now = func() time.Time { return now }

			_ = store.Save(mintToken(t, now.Add(offset)), "refresh-1")

			got := store.Load()
			if got.IsAuthenticated {
				t.Error("Load() IsAuthenticated = true for expired token")
			}
			if got.AccessToken != "" || got.RefreshToken != "" {
				t.Errorf("Load() returned tokens for expired entry: %+v", got)
			}
			if storage.has(KeyAccessToken) || storage.has(KeyRefreshToken) {
				t.Error("expired entries should be removed from storage")
			}
			if got.StaleRefreshToken != "refresh-1" {
				t.Errorf("StaleRefreshToken = %q, want refresh-1", got.StaleRefreshToken)
			}
		})
	}
}

func TestStore_Load_MissingAccessToken(t *testing.T) {
	storage := newMapStorage()
	storage.data[KeyRefreshToken] = "orphan"
	store := NewStore(storage, testLogger())

	got := store.Load()
	if got.IsAuthenticated {
		t.Error("Load() IsAuthenticated = true without access token")
	}
	if storage.has(KeyRefreshToken) {
		t.Error("orphan refresh token should be purged")
	}
	if got.StaleRefreshToken != "" {
		t.Error("no stale refresh token expected when access token is absent")
	}
}

func TestStore_Load_UndecodableToken(t *testing.T) {
	storage := newMapStorage()
	storage.data[KeyAccessToken] = "corrupt"
	storage.data[KeyRefreshToken] = "r"
	store := NewStore(storage, testLogger())

	if got := store.Load(); got.IsAuthenticated {
		t.Error("Load() IsAuthenticated = true for undecodable token")
	}
	if storage.has(KeyAccessToken) {
		t.Error("undecodable token should be purged")
	}
}

func TestStore_Load_StorageErrorFailsSafe(t *testing.T) {
	storage := newMapStorage()
	storage.getErr = errors.New("disk on fire")
	store := NewStore(storage, testLogger())

	got := store.Load()
	if got.IsAuthenticated {
		t.Error("Load() should fail safe to logged out")
	}
	if got != (Result{}) {
		t.Errorf("Load() = %+v, want empty result", got)
	}
}

func TestStore_SaveOverwritesAndClear(t *testing.T) {
	storage := newMapStorage()
	store := NewStore(storage, testLogger())

	_ = store.Save("a1", "r1")
	_ = store.Save("a2", "r2")
	if v := storage.data[KeyAccessToken]; v != "a2" {
		t.Errorf("access = %q, want a2", v)
	}
	if v := storage.data[KeyRefreshToken]; v != "r2" {
		t.Errorf("refresh = %q, want r2", v)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if len(storage.data) != 0 {
		t.Errorf("storage not empty after Clear(): %v", storage.data)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear() error: %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Error("Fingerprint(\"\") should be empty")
	}
	a, b := Fingerprint("token-a"), Fingerprint("token-b")
	if a == b {
		t.Error("different tokens should have different fingerprints")
	}
	if len(a) != 16 {
		t.Errorf("len(Fingerprint) = %d, want 16", len(a))
	}
	if Fingerprint("token-a") != a {
		t.Error("Fingerprint should be deterministic")
	}
}
