// Package token persists access and refresh tokens and derives their expiry.
package token

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Result is the outcome of Store.Load.
type Result struct {
	AccessToken     string
	RefreshToken    string
	TokenExpiration time.Time
	IsAuthenticated bool

	// StaleRefreshToken carries the refresh token that was purged together
	// with an expired access token. It is never persisted again by Load;
	// the caller may use it once to try to recover the session.
	StaleRefreshToken string
}

// Store reads and writes the token pair through a Storage.
type Store struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a Store backed by storage.
func NewStore(storage Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Load reads the persisted tokens. Anything other than a present,
// decodable, unexpired access token purges both entries and yields an
// unauthenticated Result. Storage errors are treated as "no token".
func (s *Store) Load() Result {
	access, ok, err := s.storage.Get(KeyAccessToken)
	if err != nil {
		s.logger.Debug("token storage read failed, treating as logged out", "error", err)
		s.purge()
		return Result{}
	}
	if !ok || access == "" {
		s.purge()
		return Result{}
	}

	refresh, _, err := s.storage.Get(KeyRefreshToken)
	if err != nil {
		s.logger.Debug("refresh token read failed", "error", err)
		refresh = ""
	}

	exp, valid := ExpiryOf(access)
	if !valid || !exp.After(s.now()) {
		s.logger.Debug("stored access token expired or undecodable",
			"token", Fingerprint(access),
			"has_refresh", refresh != "",
		)
		s.purge()
		return Result{StaleRefreshToken: refresh}
	}

	return Result{
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenExpiration: exp,
		IsAuthenticated: true,
	}
}

// Save writes both tokens, overwriting prior entries.
func (s *Store) Save(accessToken, refreshToken string) error {
	if err := s.storage.Set(KeyAccessToken, accessToken); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	if err := s.storage.Set(KeyRefreshToken, refreshToken); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// Clear removes both entries unconditionally. Both deletes are attempted
// even if the first fails.
func (s *Store) Clear() error {
	errAccess := s.storage.Delete(KeyAccessToken)
	errRefresh := s.storage.Delete(KeyRefreshToken)
	if errAccess != nil {
		return fmt.Errorf("clear access token: %w", errAccess)
	}
	if errRefresh != nil {
		return fmt.Errorf("clear refresh token: %w", errRefresh)
	}
	return nil
}

func (s *Store) purge() {
	if err := s.Clear(); err != nil {
		s.logger.Debug("token purge failed", "error", err)
	}
}

// ExpiryOf decodes the token's claims without verifying the signature and
// returns its exp claim. ok is false when the token cannot be decoded or
// carries no expiry; callers must treat that as expired.
func ExpiryOf(tokenString string) (exp time.Time, ok bool) {
	if tokenString == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Fingerprint returns a short non-reversible identifier for a token, safe
// to log and to compare token values without keeping them around.
func Fingerprint(tokenString string) string {
	if tokenString == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(tokenString))
}
