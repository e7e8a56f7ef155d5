package http

import (
	"net/http"
	"net/url"

	"github.com/Ahmdfdhilah/dashgate/internal/service"
)

// SSOCapturer consumes SSO hand-off parameters. Implemented by
// *service.Bootstrapper.
type SSOCapturer interface {
	CaptureSSO(loc service.Location) bool
}

// requestLocation presents a request URL as a service.Location. Replace
// records the cleaned address for the follow-up redirect.
type requestLocation struct {
	current  *url.URL
	replaced *url.URL
}

func (l *requestLocation) URL() *url.URL {
	u := *l.current
	return &u
}

func (l *requestLocation) Replace(u *url.URL) {
	l.replaced = u
}

// SSOCaptureMiddleware stores tokens handed over by the SSO portal and
// answers 303 See Other to the same address without the token parameters,
// so tokens never linger in the address bar or history.
func SSOCaptureMiddleware(capturer SSOCapturer, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if !r.URL.Query().Has(service.ParamSSOToken) && !r.URL.Query().Has(service.ParamSSORefreshToken) {
				next.ServeHTTP(w, r)
				return
			}

			loc := &requestLocation{current: r.URL}
			if !capturer.CaptureSSO(loc) || loc.replaced == nil {
				next.ServeHTTP(w, r)
				return
			}
			if metrics != nil {
				metrics.SSOCaptures.Inc()
			}

			cleaned := loc.replaced.RequestURI()
			LoggerFromContext(r.Context()).Debug("SSO hand-off consumed", "path", loc.replaced.Path)
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, cleaned, http.StatusSeeOther)
		})
	}
}
