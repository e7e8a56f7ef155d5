package http

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

// retryAfterSeconds is sent on wait pages.
const retryAfterSeconds = 1

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
{{end}}

{{define "wait"}}{{template "head"}}<meta http-equiv="refresh" content="{{.RetryAfter}}">
<title>Loading</title></head>
<body><main><p>{{.Message}}</p></main></body></html>
{{end}}

{{define "unauthorized"}}{{template "head"}}<title>Unauthorized</title></head>
<body><main>
<h1>Unauthorized</h1>
<p>You do not have permission to view this page.</p>
<p><a href="{{.DefaultPath}}">Back to dashboard</a></p>
</main></body></html>
{{end}}

{{define "landing"}}{{template "head"}}<title>Dashboard</title></head>
<body><main>
{{with .User}}<h1>Signed in as {{.Name}}</h1>
{{with .Email}}<p>{{.}}</p>{{end}}
{{with .OrgUnit}}<p>{{.Name}}</p>{{end}}
{{if .Roles}}<ul>{{range .Roles}}<li>{{.Type}} ({{.Code}})</li>{{end}}</ul>{{end}}
{{else}}<p>Your session has ended.</p>{{end}}
<form method="post" action="/auth/logout"><button type="submit">Log out</button></form>
</main></body></html>
{{end}}
`))

type waitPage struct {
	Message    string
	RetryAfter int
}

type unauthorizedPage struct {
	DefaultPath string
}

type landingPage struct {
	User *identity.UserProfile
}

// writeWait answers while the session is still settling. Browsers get a
// self-refreshing page, API clients a 503 with Retry-After.
func writeWait(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "session_pending",
			"message":     message,
			"retry_after": retryAfterSeconds,
		})
		return
	}
	renderPage(w, r, http.StatusServiceUnavailable, "wait", waitPage{Message: message, RetryAfter: retryAfterSeconds})
}

// writeUnauthorized renders the in-place denial. The session is untouched.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, defaultPath string) {
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":        "unauthorized",
			"default_path": defaultPath,
		})
		return
	}
	renderPage(w, r, http.StatusForbidden, "unauthorized", unauthorizedPage{DefaultPath: defaultPath})
}

// LandingHandler renders a minimal page for the signed-in user. It is the
// content of routes with no asset directory.
func LandingHandler(state SessionReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		w.Header().Set("Cache-Control", "no-store")
		renderPage(w, r, http.StatusOK, "landing", landingPage{User: snap.User})
	})
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		LoggerFromContext(r.Context()).Error("failed to render page", "page", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
