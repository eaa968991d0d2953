package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/famis-lga/famis-portal/internal/authz"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/session"
	"github.com/famis-lga/famis-portal/internal/shared"
	"github.com/famis-lga/famis-portal/web"
)

// Engine renders HTML templates. Each page is parsed on top of the shared layouts and partials.
type Engine struct {
	pages map[string]*template.Template
	csrf  *shared.CSRFManager
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *identity.User
	Nav         []authz.NavGroup
	LandingPage string
	ExpiresAt   time.Time
	Data        any
}

// NewEngine parses templates at build-time. csrf may be nil when no forms are rendered.
func NewEngine(csrf *shared.CSRFManager) (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"hasPermission":   authz.HasPermission,
		"canManageAssets": authz.CanManageAssets,
		"join":            strings.Join,
		"unix": func(t time.Time) int64 {
			if t.IsZero() {
				return 0
			}
			return t.Unix()
		},
	}
	base, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html")
	if err != nil {
		return nil, err
	}
	files, err := fs.Glob(web.Templates, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		tpl, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := tpl.ParseFS(web.Templates, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[strings.TrimSuffix(path.Base(file), ".html")] = tpl
	}
	return &Engine{pages: pages, csrf: csrf}, nil
}

// Render executes the named page with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.render(w, http.StatusOK, name, data)
}

// RenderPage renders a page for the request with the given status, filling the signed-in user,
// navigation, flash and CSRF token from the request context.
func (e *Engine) RenderPage(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) error {
	return e.render(w, status, page, e.Build(r, title, data))
}

// Build assembles TemplateData for r.
func (e *Engine) Build(r *http.Request, title string, data any) TemplateData {
	td := TemplateData{Title: title, CurrentPath: r.URL.Path, Data: data}
	if store := session.FromContext(r.Context()); store != nil {
		snap := store.Snapshot()
		if snap.Authenticated {
			td.User = snap.User
			td.Nav = authz.Navigation(snap.User)
			td.LandingPage = authz.DefaultLandingPage(snap.User)
			td.ExpiresAt = snap.ExpiresAt
		}
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		td.Flash = sess.PopFlash()
		if e != nil && e.csrf != nil {
			if token, err := e.csrf.EnsureToken(sess); err == nil {
				td.CSRFToken = token
			}
		}
	}
	return td
}

func (e *Engine) render(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	tpl, ok := e.pages[name]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
