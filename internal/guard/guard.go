// Package guard decides, on every request, whether a page may render for the current session.
package guard

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/famis-lga/famis-portal/internal/authz"
	"github.com/famis-lga/famis-portal/internal/platform/httpx"
	"github.com/famis-lga/famis-portal/internal/session"
)

// State is the outcome of a guard decision.
type State int

const (
	// Pending means the session has not resolved yet.
	Pending State = iota
	// Unauthenticated means nobody is signed in.
	Unauthenticated
	// Forbidden means the user lacks every required capability.
	Forbidden
	// Authorized means the page may render.
	Authorized
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Decide evaluates the session against the required capabilities using authz.DefaultPolicy.
// Holding any one of them is enough; none means any signed-in user.
func Decide(reader session.Reader, required ...string) State {
	return decide(authz.DefaultPolicy, reader, required)
}

func decide(policy *authz.Policy, reader session.Reader, required []string) State {
	if reader == nil {
		return Unauthenticated
	}
	if reader.IsLoading() {
		return Pending
	}
	if !reader.IsAuthenticated() {
		return Unauthenticated
	}
	if len(required) == 0 {
		return Authorized
	}
	user := reader.CurrentUser()
	for _, capability := range required {
		if policy.HasPermission(user, capability) {
			return Authorized
		}
	}
	return Forbidden
}

// Renderer draws the pending and denied pages.
type Renderer interface {
	RenderPage(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) error
}

// Recorder counts guard decisions.
type Recorder interface {
	ObserveGuard(route, decision string)
}

// DeniedPage is the data handed to the "denied" page.
type DeniedPage struct {
	Required []string
	Landing  string
}

// Guard wires route protection into chi routers.
type Guard struct {
	Policy   *authz.Policy
	Renderer Renderer
	Metrics  Recorder
	Logger   *slog.Logger
	// RetryAfter is the Refresh delay in seconds sent with the pending page.
	RetryAfter int
}

// Require lets the request through only when the session holds at least one of caps.
func (g Guard) Require(caps ...string) func(http.Handler) http.Handler {
	required := normalize(caps)
	policy := g.Policy
	if policy == nil {
		policy = authz.DefaultPolicy
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reader session.Reader
			if store := session.FromContext(r.Context()); store != nil {
				reader = store
			}
			state := decide(policy, reader, required)
			route := routePattern(r)
			if g.Metrics != nil {
				g.Metrics.ObserveGuard(route, state.String())
			}
			if g.Logger != nil {
				g.Logger.DebugContext(r.Context(), "route guard", slog.String("route", route), slog.String("decision", state.String()))
			}

			switch state {
			case Authorized:
				next.ServeHTTP(w, r)
			case Pending:
				g.pending(w, r)
			case Unauthenticated:
				g.unauthenticated(w, r)
			default:
				var landing string
				if reader != nil {
					landing = policy.DefaultLandingPage(reader.CurrentUser())
				}
				g.forbidden(w, r, DeniedPage{Required: required, Landing: landing})
			}
		})
	}
}

func (g Guard) pending(w http.ResponseWriter, r *http.Request) {
	retry := g.RetryAfter
	if retry <= 0 {
		retry = 2
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Cache-Control", "no-store")
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Checking authentication", "session is still being restored")
		return
	}
	w.Header().Set("Refresh", strconv.Itoa(retry))
	g.render(w, r, http.StatusServiceUnavailable, "pending", "Checking authentication...", nil)
}

func (g Guard) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	target := authz.PathLogin
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (g Guard) forbidden(w http.ResponseWriter, r *http.Request, page DeniedPage) {
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusForbidden, "Permission Denied", "requires one of: "+strings.Join(page.Required, ", "))
		return
	}
	g.render(w, r, http.StatusForbidden, "denied", "Permission Denied", page)
}

func (g Guard) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	if g.Renderer != nil {
		if err := g.Renderer.RenderPage(w, r, status, page, title, data); err == nil {
			return
		} else if g.Logger != nil {
			g.Logger.ErrorContext(r.Context(), "render guard page", slog.String("page", page), slog.Any("error", err))
		}
	}
	http.Error(w, title, status)
}

func normalize(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
