package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/port/outbound"
)

const instrumentationName = "github.com/Ahmdfdhilah/dashgate/internal/service"

// AuthService runs the three network-bound session operations: profile
// fetch, token refresh and logout. Each operation goes through the session
// request lifecycle, so results for a session that has since been replaced
// are discarded.
type AuthService struct {
	state  *session.State
	client outbound.IdentityClient
	logger *slog.Logger

	tracer trace.Tracer
	ops    metric.Int64Counter

	// startMu serializes the in-flight check and Begin in StartProfileFetch.
	startMu sync.Mutex
	wg      sync.WaitGroup
}

// AuthOption configures an AuthService.
type AuthOption func(*authOptions)

type authOptions struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider sets the tracer provider. Defaults to the otel global.
func WithTracerProvider(tp trace.TracerProvider) AuthOption {
	return func(o *authOptions) {
		o.tp = tp
	}
}

// WithMeterProvider sets the meter provider. Defaults to the otel global.
func WithMeterProvider(mp metric.MeterProvider) AuthOption {
	return func(o *authOptions) {
		o.mp = mp
	}
}

// NewAuthService creates a new AuthService.
func NewAuthService(state *session.State, client outbound.IdentityClient, logger *slog.Logger, opts ...AuthOption) *AuthService {
	o := authOptions{
		tp: otel.GetTracerProvider(),
		mp: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &AuthService{
		state:  state,
		client: client,
		logger: logger,
		tracer: o.tp.Tracer(instrumentationName),
	}
	ops, err := o.mp.Meter(instrumentationName).Int64Counter("dashgate.auth.operations",
		metric.WithDescription("Session operations by kind and result"),
	)
	if err != nil {
		logger.Warn("failed to create auth operations counter", "error", err)
	}
	s.ops = ops
	return s
}

// FetchProfile fetches the current user, then best-effort the linked
// employee and org unit, and applies the result to the session. A failure
// of the user call clears the session.
func (s *AuthService) FetchProfile(ctx context.Context) error {
	s.startMu.Lock()
	ticket := s.state.Begin(session.OpProfile)
	s.startMu.Unlock()
	return s.fetchProfile(ctx, ticket)
}

// StartProfileFetch begins a profile fetch and runs it in the background.
// It returns false if the session has no access token or a fetch is
// already in flight.
func (s *AuthService) StartProfileFetch(ctx context.Context) bool {
	s.startMu.Lock()
	snap := s.state.Snapshot()
	if !snap.IsAuthenticated || snap.AccessToken == "" || snap.ProfileInFlight {
		s.startMu.Unlock()
		return false
	}
	ticket := s.state.Begin(session.OpProfile)
	s.startMu.Unlock()

	// The fetch outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.fetchProfile(ctx, ticket)
	}()
	return true
}

func (s *AuthService) fetchProfile(ctx context.Context, ticket session.Ticket) error {
	ctx, span := s.tracer.Start(ctx, "auth.fetch_profile")
	defer span.End()

	if ticket.AccessToken == "" {
		return s.reject(ctx, span, ticket, session.ErrNoAccessToken)
	}

	profile, err := s.client.CurrentUser(ctx, ticket.AccessToken)
	if err != nil {
		return s.reject(ctx, span, ticket, fmt.Errorf("get current user: %w", err))
	}
	s.fillDependents(ctx, ticket.AccessToken, profile)

	if err := s.state.ResolveProfile(ticket, profile); err != nil {
		return s.stale(ctx, span, ticket, err)
	}
	span.SetAttributes(attribute.Int("roles", len(profile.Roles)))
	s.record(ctx, ticket.Kind, "success")
	s.logger.Debug("profile fetched", "user_id", profile.ID, "roles", profile.RoleTypes())
	return nil
}

// fillDependents loads the employee and org unit records. Each lookup
// falls back to nil on failure.
func (s *AuthService) fillDependents(ctx context.Context, accessToken string, p *identity.UserProfile) {
	if p.EmployeeID == "" {
		return
	}
	emp, err := s.client.Employee(ctx, accessToken, p.EmployeeID)
	if err != nil {
		s.logger.Debug("employee lookup failed", "employee_id", p.EmployeeID, "error", err)
		return
	}
	p.Employee = emp
	if emp == nil || emp.OrgUnitID == "" {
		return
	}
	unit, err := s.client.OrganizationUnit(ctx, accessToken, emp.OrgUnitID)
	if err != nil {
		s.logger.Debug("org unit lookup failed", "org_unit_id", emp.OrgUnitID, "error", err)
		return
	}
	p.OrgUnit = unit
}

// RefreshToken exchanges the session's refresh token for a new access
// token. Any failure clears the session.
func (s *AuthService) RefreshToken(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	ticket := s.state.Begin(session.OpRefresh)
	if ticket.RefreshToken == "" {
		return s.reject(ctx, span, ticket, session.ErrNoRefreshToken)
	}

	pair, err := s.client.Refresh(ctx, ticket.RefreshToken)
	if err != nil {
		return s.reject(ctx, span, ticket, fmt.Errorf("refresh token: %w", err))
	}
	if pair.AccessToken == "" {
		return s.reject(ctx, span, ticket, fmt.Errorf("refresh token: %w", session.ErrNoAccessToken))
	}

	if err := s.state.ResolveRefresh(ticket, pair.AccessToken, pair.RefreshToken); err != nil {
		return s.stale(ctx, span, ticket, err)
	}
	s.record(ctx, ticket.Kind, "success")
	s.logger.Info("access token refreshed")
	return nil
}

// Logout notifies the backend and clears the session. Local credentials are
// removed even when the notification fails; that failure is logged and
// returned for callers that want to report it. A session started while the
// notification was in flight is left alone and ErrStaleTicket is returned.
func (s *AuthService) Logout(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "auth.logout")
	defer span.End()

	ticket := s.state.Begin(session.OpLogout)

	var notifyErr error
	if ticket.AccessToken != "" {
		notifyErr = s.client.Logout(ctx, ticket.AccessToken)
	}
	if notifyErr != nil {
		span.RecordError(notifyErr)
		s.logger.Warn("logout notification failed, clearing local session anyway", "error", notifyErr)
	}

	if err := s.state.ResolveLogout(ticket); err != nil {
		// A newer session began while the notification was in flight.
		return s.stale(ctx, span, ticket, err)
	}

	result := "success"
	if notifyErr != nil {
		result = "notify_failed"
	}
	s.record(ctx, ticket.Kind, result)
	s.logger.Info("logged out")
	if notifyErr != nil {
		return fmt.Errorf("notify logout: %w", notifyErr)
	}
	return nil
}

// Wait blocks until background profile fetches have finished.
func (s *AuthService) Wait() {
	s.wg.Wait()
}

func (s *AuthService) reject(ctx context.Context, span trace.Span, ticket session.Ticket, opErr error) error {
	span.RecordError(opErr)
	span.SetStatus(codes.Error, opErr.Error())
	if err := s.state.Reject(ticket, opErr); err != nil {
		return s.stale(ctx, span, ticket, err)
	}
	s.record(ctx, ticket.Kind, "failure")
	s.logger.Warn("session operation failed, session cleared", "op", ticket.Kind.String(), "error", opErr)
	return opErr
}

func (s *AuthService) stale(ctx context.Context, span trace.Span, ticket session.Ticket, err error) error {
	if errors.Is(err, session.ErrStaleTicket) {
		span.SetAttributes(attribute.Bool("stale", true))
		s.record(ctx, ticket.Kind, "stale")
		s.logger.Debug("discarding result for replaced session", "op", ticket.Kind.String())
	}
	return err
}

func (s *AuthService) record(ctx context.Context, kind session.OpKind, result string) {
	if s.ops == nil {
		return
	}
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", kind.String()),
		attribute.String("result", result),
	))
}
