package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

type upstreamCall struct {
	method, path, query, auth, cookie, forwardedFor, body string
}

func newAPIFixture(t *testing.T, status int, stripPrefix bool) (*session.State, *APIProxy, *Metrics, chan upstreamCall) {
	t.Helper()
	calls := make(chan upstreamCall, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- upstreamCall{
			method:       r.Method,
			path:         r.URL.Path,
			query:        r.URL.RawQuery,
			auth:         r.Header.Get("Authorization"),
			cookie:       r.Header.Get("Cookie"),
			forwardedFor: r.Header.Get("X-Forwarded-For"),
			body:         string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	state := session.NewState(nil, discardLogger())
	proxy := NewAPIProxy(APIProxyConfig{
		Prefix:      "/api/",
		Upstream:    upstream.URL + "/v1",
		StripPrefix: stripPrefix,
		Timeout:     5 * time.Second,
		SSOBaseURL:  testSSO,
	}, state, discardLogger())
	metrics := NewMetrics(prometheus.NewRegistry())
	proxy.setMetrics(metrics)
	return state, proxy, metrics, calls
}

func TestAPIProxy_InjectsBearer(t *testing.T) {
	state, proxy, metrics, calls := newAPIFixture(t, http.StatusOK, false)
	tok := mintToken(t, time.Now().Add(time.Hour))
	state.SetTokens(tok, "ref")

	req := httptest.NewRequest(http.MethodPost, "/api/plans?year=2024", strings.NewReader(`{"name":"q1"}`))
	req.Header.Set("Authorization", "Bearer client-supplied")
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := <-calls
	if got.auth != "Bearer "+tok {
		t.Errorf("Authorization = %q, want the session token", got.auth)
	}
	if got.cookie != "" {
		t.Errorf("Cookie forwarded: %q", got.cookie)
	}
	if got.method != http.MethodPost || got.path != "/v1/api/plans" || got.query != "year=2024" {
		t.Errorf("upstream saw %s %s?%s", got.method, got.path, got.query)
	}
	if got.body != `{"name":"q1"}` {
		t.Errorf("body = %q", got.body)
	}
	if got.forwardedFor == "" {
		t.Error("X-Forwarded-For not set")
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("response body = %q", rec.Body.String())
	}
	if v := testutil.ToFloat64(metrics.APIRequests.WithLabelValues("2xx")); v != 1 {
		t.Errorf("2xx api requests = %v, want 1", v)
	}
}

func TestAPIProxy_StripPrefix(t *testing.T) {
	state, proxy, _, calls := newAPIFixture(t, http.StatusOK, true)
	state.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "ref")

	req := httptest.NewRequest(http.MethodGet, "/api/employees/42", nil)
	proxy.ServeHTTP(httptest.NewRecorder(), req)

	if got := <-calls; got.path != "/v1/employees/42" {
		t.Errorf("upstream path = %q, want %q", got.path, "/v1/employees/42")
	}
}

func TestAPIProxy_RejectsWithoutSession(t *testing.T) {
	_, proxy, metrics, calls := newAPIFixture(t, http.StatusOK, false)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), testSSO+"/login") {
		t.Errorf("body should carry the login URL: %s", rec.Body.String())
	}
	select {
	case <-calls:
		t.Error("request forwarded without a session")
	default:
	}
	if v := testutil.ToFloat64(metrics.APIRequests.WithLabelValues("unauthenticated")); v != 1 {
		t.Errorf("unauthenticated api requests = %v, want 1", v)
	}
}

func TestAPIProxy_BackendUnauthorizedClearsSession(t *testing.T) {
	state, proxy, metrics, calls := newAPIFixture(t, http.StatusUnauthorized, false)
	state.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "ref")

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)
	<-calls

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want backend status passed through", rec.Code)
	}
	if state.Snapshot().IsAuthenticated {
		t.Error("backend 401 should clear the session")
	}
	if v := testutil.ToFloat64(metrics.APISessionDrops); v != 1 {
		t.Errorf("session drops = %v, want 1", v)
	}
}

func TestAPIProxy_BackendForbiddenKeepsSession(t *testing.T) {
	state, proxy, _, calls := newAPIFixture(t, http.StatusForbidden, false)
	state.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "ref")

	proxy.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin", nil))
	<-calls

	if !state.Snapshot().IsAuthenticated {
		t.Error("backend 403 must not clear the session")
	}
}

func TestAPIProxy_UpstreamUnreachable(t *testing.T) {
	state := session.NewState(nil, discardLogger())
	state.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "ref")
	proxy := NewAPIProxy(APIProxyConfig{
		Prefix:   "/api/",
		Upstream: "http://127.0.0.1:1",
		Timeout:  time.Second,
	}, state, discardLogger())

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !state.Snapshot().IsAuthenticated {
		t.Error("unreachable backend must not clear the session")
	}
}
