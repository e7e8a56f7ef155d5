// Package http serves dashboards behind the dashgate route guard.
//
// Every protected request runs through the same chain: metrics, request
// ID, SSO hand-off capture and finally a fresh route guard for the
// request. The guard either lets the request through to the dashboard
// assets, asks the browser to come back shortly while the session
// settles, shows an in-place unauthorized page, or sends the browser to
// the SSO login page.
//
// # Usage
//
//	transport := http.NewHTTPTransport(state, authService, bootstrapper, ssoBaseURL,
//	    http.WithAddr("127.0.0.1:8080"),
//	    http.WithRoutes(http.Route{Prefix: "/", Handler: http.StaticHandler("./dist")}),
//	    http.WithAPIProxy(apiProxy),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	<route prefix>   - guarded dashboard content
//	/api/            - authenticated reverse proxy to the backend (bearer injected)
//	/auth/session    - session contract as JSON
//	/auth/logout     - POST only: notify the backend, clear the session, go to the SSO login
//	/auth/audit      - recent session audit records (when the audit log is on)
//	/health          - component health
//	/metrics         - Prometheus metrics
//
// # Response Headers
//
//	X-Request-ID: <uuid>  - correlation ID, echoed or generated
//	Retry-After: <secs>   - on wait pages while the session resolves
package http
