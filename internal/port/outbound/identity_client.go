// Package outbound defines the outbound port interfaces for talking to the
// identity backend.
package outbound

import (
	"context"
	"errors"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("identity: unauthorized")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("identity: not found")

// TokenPair is the payload of a successful refresh. RefreshToken is empty
// when the backend does not rotate it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IdentityClient is the outbound port for the identity REST surface.
// Every call carries accessToken as a bearer credential.
type IdentityClient interface {
	// CurrentUser returns the signed-in user with roles.
	CurrentUser(ctx context.Context, accessToken string) (*identity.UserProfile, error)

	// Employee returns one employee record.
	Employee(ctx context.Context, accessToken, id string) (*identity.Employee, error)

	// OrganizationUnit returns one org unit record.
	OrganizationUnit(ctx context.Context, accessToken, id string) (*identity.OrganizationUnit, error)

	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)

	// Logout notifies the backend that the session ended.
	Logout(ctx context.Context, accessToken string) error
}
