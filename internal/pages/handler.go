// Package pages serves the page shells behind the route guard. Each shell carries what the
// signed-in user may do there; the page content itself talks to the backend through /api.
package pages

import (
	"log/slog"
	"net/http"

	"github.com/famis-lga/famis-portal/internal/authz"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/session"
	"github.com/famis-lga/famis-portal/internal/view"
)

// Dashboard is the data of the dashboard page.
type Dashboard struct {
	Modules []authz.NavItem
}

// Module is the data of a module page shell.
type Module struct {
	Locations []string
	CanManage bool
	API       string
}

// Section describes a guarded module page.
type Section struct {
	Title string
	Path  string
	API   string
	// Capabilities guard the route; holding any one is enough.
	Capabilities []string
	// Manage reports whether the user may create and edit records here.
	Manage func(*identity.User) bool
	// Scoped sections show the user's location filter.
	Scoped bool
}

// Sections lists every module page with the capabilities that guard it.
var Sections = []Section{
	{Title: "Assets", Path: authz.PathAssets, API: "/api/assets", Capabilities: []string{authz.CapAssets, authz.CapMaintenance}, Manage: authz.CanManageAssets, Scoped: true},
	{Title: "Asset Report", Path: authz.PathAssets + "/report", API: "/api/assets/report", Capabilities: []string{authz.CapAssets}, Scoped: true},
	{Title: "Maintenance", Path: authz.PathMaintenance, API: "/api/maintenance", Capabilities: []string{authz.CapMaintenance}, Manage: authz.IsMaintenanceManager, Scoped: true},
	{Title: "Transfers", Path: authz.PathTransfers, API: "/api/transfers", Capabilities: []string{authz.CapTransfers}, Manage: manages(authz.CapTransfers), Scoped: true},
	{Title: "Auctions", Path: authz.PathAuctions, API: "/api/auctions", Capabilities: []string{authz.CapAuctions}, Manage: manages(authz.CapAuctions)},
	{Title: "Disposals", Path: authz.PathDisposals, API: "/api/disposals", Capabilities: []string{authz.CapDisposals}, Manage: manages(authz.CapDisposals)},
	{Title: "Reports", Path: authz.PathReports, API: "/api/reports", Capabilities: []string{authz.CapReports}},
	{Title: "Audit Trail", Path: authz.PathAudit, API: "/api/audit", Capabilities: []string{authz.CapAudit}},
	{Title: "Users", Path: authz.PathUsers, API: "/api/users", Capabilities: []string{authz.CapUsers}, Manage: manages(authz.CapUsers)},
	{Title: "Notifications", Path: authz.PathNotifications, API: "/api/notifications", Capabilities: []string{authz.CapNotifications}},
}

func manages(capability string) func(*identity.User) bool {
	return func(u *identity.User) bool { return authz.HasPermission(u, capability) }
}

// Handler renders the page shells.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	locations []string
}

// NewHandler constructs a Handler. locations is the full site list offered to unrestricted users.
func NewHandler(logger *slog.Logger, templates *view.Engine, locations []string) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, templates: templates, locations: locations}
}

// Root sends signed-in users to their landing page and everyone else to the login form.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	target := authz.PathLogin
	if store := session.FromContext(r.Context()); store != nil && store.IsAuthenticated() {
		target = authz.DefaultLandingPage(store.CurrentUser())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Dashboard renders the dashboard. Module tiles are only listed for administrators.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	var data Dashboard
	if user := currentUser(r); authz.HasPermission(user, authz.CapAdmin) {
		for _, group := range authz.Navigation(user) {
			for _, item := range group.Items {
				if item.Href != authz.PathDashboard {
					data.Modules = append(data.Modules, item)
				}
			}
		}
	}
	h.render(w, r, "dashboard", "Dashboard", data)
}

// Profile renders the signed-in user's details.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "profile", "Profile", nil)
}

// Section returns the handler rendering the shell of s.
func (h *Handler) Section(s Section) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		data := Module{API: s.API}
		data.CanManage = s.Manage != nil && s.Manage(user)
		if s.Scoped {
			data.Locations = authz.AccessibleLocations(user, h.locations)
		}
		h.render(w, r, "module", s.Title, data)
	}
}

// NotFound renders the not-found page.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderStatus(w, r, http.StatusNotFound, "error", "Page not found", "The page you requested does not exist.")
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page, title string, data any) {
	h.renderStatus(w, r, http.StatusOK, page, title, data)
}

func (h *Handler) renderStatus(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	if err := h.templates.RenderPage(w, r, status, page, title, data); err != nil {
		h.logger.ErrorContext(r.Context(), "render page", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func currentUser(r *http.Request) *identity.User {
	if store := session.FromContext(r.Context()); store != nil {
		return store.CurrentUser()
	}
	return nil
}
