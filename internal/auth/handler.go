package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/famis-lga/famis-portal/internal/authz"
	"github.com/famis-lga/famis-portal/internal/backend"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/platform/httpx"
	"github.com/famis-lga/famis-portal/internal/session"
	"github.com/famis-lga/famis-portal/internal/shared"
	"github.com/famis-lga/famis-portal/internal/view"
)

const (
	msgInvalidCredentials = "Invalid username or password."
	msgMissingFields      = "Enter your username and password."
	msgUnavailable        = "FAMIS is unavailable right now. Please try again in a moment."
	msgSuperseded         = "You were signed out while signing in. Please sign in again."
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	validator      *validator.Validate
	now            func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		validator:      validator.New(),
		now:            time.Now,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/session", h.sessionState)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	next := SafeNext(r.URL.Query().Get("next"))
	if store := session.FromContext(r.Context()); store != nil && store.IsAuthenticated() {
		http.Redirect(w, r, landing(next, store.CurrentUser()), http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, LoginPage{Next: next})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	form := loginForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	page := LoginPage{Username: form.Username, Next: SafeNext(r.PostFormValue("next"))}
	if err := h.validator.Struct(form); err != nil {
		page.Error = msgMissingFields
		h.renderLogin(w, r, http.StatusBadRequest, page)
		return
	}

	store := session.FromContext(r.Context())
	if store == nil {
		h.logger.ErrorContext(r.Context(), "identity store missing during login")
		httpx.RespondError(w, shared.ErrSessionMissing)
		return
	}

	user, err := h.service.SignIn(r.Context(), store, form.Username, form.Password)
	if err != nil {
		status := http.StatusBadRequest
		var refused *backend.CredentialsError
		switch {
		case errors.As(err, &refused):
			page.Error = msgInvalidCredentials
			if refused.Message != "" {
				page.Error = refused.Message
			}
		case errors.Is(err, backend.ErrInvalidCredentials):
			page.Error = msgInvalidCredentials
		case errors.Is(err, ErrSignInSuperseded):
			page.Error = msgSuperseded
		default:
			status = http.StatusServiceUnavailable
			page.Error = msgUnavailable
			h.logger.ErrorContext(r.Context(), "sign in", slog.String("username", form.Username), slog.Any("error", err))
		}
		h.renderLogin(w, r, status, page)
		return
	}

	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		markChecked(sess, h.now())
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + user.FullName() + "."})
	}
	http.Redirect(w, r, landing(page.Next, user), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if store := session.FromContext(r.Context()); store != nil {
		_ = h.service.SignOut(r.Context(), store)
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.Delete(checkedAtKey)
		sess.Delete(shared.CSRFSessionKey)
		sess.ClearFlashes()
		sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "You have been signed out."})
	}
	http.Redirect(w, r, authz.PathLogin, http.StatusSeeOther)
}

func (h *Handler) sessionState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	state := SessionState{User: json.RawMessage("null")}
	store := session.FromContext(r.Context())
	if store == nil {
		httpx.JSON(w, http.StatusOK, state)
		return
	}
	snap := store.Snapshot()
	state.Loading = snap.Loading
	state.Authenticated = snap.Authenticated
	if snap.Authenticated {
		if data, err := identity.Encode(snap.User); err == nil {
			state.User = data
		}
		state.LandingPage = authz.DefaultLandingPage(snap.User)
		if !snap.ExpiresAt.IsZero() {
			expires := snap.ExpiresAt.UTC()
			left := int64(snap.ExpiresAt.Sub(h.now()).Seconds())
			if left < 0 {
				left = 0
			}
			state.ExpiresAt, state.ExpiresInSeconds = &expires, &left
		}
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, page LoginPage) {
	if err := h.templates.RenderPage(w, r, status, "login", "Sign in", page); err != nil {
		h.logger.ErrorContext(r.Context(), "render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// RedirectToLogin serves the legacy /login path.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := authz.PathLogin
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// SafeNext returns next when it is a same-origin path, and "" otherwise.
func SafeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if u.Path == authz.PathLogin || u.Path == "/login" {
		return ""
	}
	return next
}

func landing(next string, user *identity.User) string {
	if next != "" {
		return next
	}
	return authz.DefaultLandingPage(user)
}
