package token

import "errors"

// Storage keys. These are the only entries dashgate persists; profile and
// expiry are always recomputed.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// Storage is durable string key-value storage that survives restarts.
// Implementations: file (default), SQLite, in-memory (tests and --ephemeral).
type Storage interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set writes value for key, overwriting any prior entry.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// ErrStorageUnavailable is returned by storage adapters that cannot reach
// their backing medium.
var ErrStorageUnavailable = errors.New("token storage unavailable")
