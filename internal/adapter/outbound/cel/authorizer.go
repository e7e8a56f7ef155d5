package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/guard"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// Authorizer is a guard.Authorizer backed by one compiled CEL expression.
type Authorizer struct {
	eval *Evaluator
	prg  cel.Program
	expr string
}

var _ guard.Authorizer = (*Authorizer)(nil)

// NewAuthorizer validates and compiles expr.
func NewAuthorizer(eval *Evaluator, expr string) (*Authorizer, error) {
	if err := eval.ValidateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := eval.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	return &Authorizer{eval: eval, prg: prg, expr: expr}, nil
}

// Authorize implements guard.Authorizer.
func (a *Authorizer) Authorize(ctx context.Context, user *identity.UserProfile) (bool, error) {
	return a.eval.Evaluate(ctx, a.prg, user)
}

// Expression returns the source expression.
func (a *Authorizer) Expression() string {
	return a.expr
}
