package session

import "errors"

// TokenPersister writes the token pair to durable storage.
// Implemented by *token.Store.
type TokenPersister interface {
	Save(accessToken, refreshToken string) error
	Clear() error
}

var (
	// ErrStaleTicket is returned when an operation resolves after the
	// session it was started for has been replaced or cleared.
	ErrStaleTicket = errors.New("stale session operation")

	// ErrNoAccessToken is returned by operations that need an access token
	// when the session has none.
	ErrNoAccessToken = errors.New("no access token")

	// ErrNoRefreshToken is returned when a refresh is attempted without a
	// refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
)
