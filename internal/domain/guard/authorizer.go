package guard

import (
	"context"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// Authorizer decides whether a resolved profile may see protected content.
type Authorizer interface {
	Authorize(ctx context.Context, user *identity.UserProfile) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, user *identity.UserProfile) (bool, error)

// Authorize calls f(ctx, user).
func (f AuthorizerFunc) Authorize(ctx context.Context, user *identity.UserProfile) (bool, error) {
	return f(ctx, user)
}

// RoleRequirement grants access when the profile holds an active role of
// this type, matching the roles visible to route expressions.
type RoleRequirement string

// Authorize implements Authorizer.
func (r RoleRequirement) Authorize(_ context.Context, user *identity.UserProfile) (bool, error) {
	return user.HasActiveRoleType(string(r)), nil
}

// AllOf grants access only when every non-nil authorizer grants it.
// The first error stops evaluation.
func AllOf(authorizers ...Authorizer) Authorizer {
	var list []Authorizer
	for _, a := range authorizers {
		if a != nil {
			list = append(list, a)
		}
	}
	return AuthorizerFunc(func(ctx context.Context, user *identity.UserProfile) (bool, error) {
		for _, a := range list {
			ok, err := a.Authorize(ctx, user)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}
