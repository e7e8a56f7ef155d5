package http

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/guard"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// hopByHopHeaders are removed before forwarding (RFC 7230 section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// APIProxyConfig configures an APIProxy.
type APIProxyConfig struct {
	// Prefix is the path prefix served by the proxy (e.g., "/api/").
	Prefix string
	// Upstream is the backend base URL (e.g., "https://api.example.com").
	Upstream string
	// StripPrefix removes Prefix before forwarding.
	StripPrefix bool
	// Timeout bounds each backend round trip. Defaults to 30s.
	Timeout    time.Duration
	SSOBaseURL string
}

// APIProxy forwards dashboard API calls to the backend with the session's
// access token attached. A backend 401 means the token is no longer
// honoured, so the session is cleared and the next page load goes to login.
type APIProxy struct {
	cfg     APIProxyConfig
	state   *session.State
	client  *http.Client
	metrics *Metrics
	logger  *slog.Logger
}

// NewAPIProxy creates an APIProxy.
func NewAPIProxy(cfg APIProxyConfig, state *session.State, logger *slog.Logger) *APIProxy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &APIProxy{
		cfg:   cfg,
		state: state,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Pass redirects through to the caller.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Prefix returns the path prefix served by the proxy.
func (p *APIProxy) Prefix() string {
	return p.cfg.Prefix
}

func (p *APIProxy) setMetrics(m *Metrics) {
	p.metrics = m
}

// ServeHTTP implements http.Handler.
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	snap := p.state.Snapshot()
	if !snap.IsAuthenticated || snap.AccessToken == "" {
		p.observe("unauthenticated")
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":     "unauthenticated",
			"login_url": guard.LoginURL(p.cfg.SSOBaseURL, ""),
		})
		return
	}

	upstreamURL := p.upstreamURL(r)
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		logger.Error("failed to create api request", "error", err, "url", upstreamURL)
		p.observe("unreachable")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "gateway_error", "message": "failed to create upstream request"})
		return
	}
	outReq.ContentLength = r.ContentLength

	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}
	outReq.Header.Del("Cookie")
	outReq.Header.Set("Authorization", "Bearer "+snap.AccessToken)

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	if id, ok := r.Context().Value(RequestIDKey).(string); ok {
		outReq.Header.Set("X-Request-ID", id)
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		logger.Error("api upstream error", "error", err, "url", upstreamURL)
		p.observe("unreachable")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "gateway_error", "message": "upstream unreachable"})
		return
	}
	defer resp.Body.Close()

	p.observe(statusClass(resp.StatusCode))
	if resp.StatusCode == http.StatusUnauthorized {
		p.dropSession(logger, snap.AccessToken)
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug("error copying api response body", "error", err)
	}
}

// dropSession clears the session if it still holds the rejected token. A
// refresh that landed meanwhile is left alone.
func (p *APIProxy) dropSession(logger *slog.Logger, rejected string) {
	if p.state.Snapshot().AccessToken != rejected {
		return
	}
	logger.Warn("backend rejected access token, clearing session", "token", token.Fingerprint(rejected))
	p.state.ClearAuth()
	if p.metrics != nil {
		p.metrics.APISessionDrops.Inc()
	}
}

func (p *APIProxy) upstreamURL(r *http.Request) string {
	path := r.URL.Path
	if p.cfg.StripPrefix {
		path = strings.TrimPrefix(path, strings.TrimRight(p.cfg.Prefix, "/"))
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}
	u := strings.TrimRight(p.cfg.Upstream, "/") + path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

func (p *APIProxy) observe(status string) {
	if p.metrics != nil {
		p.metrics.APIRequests.WithLabelValues(status).Inc()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
