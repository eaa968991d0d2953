// Package proxy forwards browser API calls under /api to the FAMIS backend with the session's
// bearer token attached.
package proxy

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/famis-lga/famis-portal/internal/authz"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/platform/httpx"
	"github.com/famis-lga/famis-portal/internal/session"
)

// Prefix is the path the proxy is mounted under.
const Prefix = "/api"

// assetListPath is the backend asset listing narrowed to the user's locations.
const assetListPath = "/assets"

// maxScopedBody caps the asset list size the proxy will buffer for filtering.
const maxScopedBody = 16 << 20

// Observer receives proxied call outcomes.
type Observer interface {
	ObserveBackend(op, outcome string)
}

// Options tune the proxy.
type Options struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
	Observer  Observer
}

// Proxy is an http.Handler forwarding authenticated requests to the backend.
type Proxy struct {
	target   *url.URL
	rp       *httputil.ReverseProxy
	logger   *slog.Logger
	observer Observer
}

// New builds a proxy for the API rooted at target.
func New(target string, opts Options) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse target: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy: target %q must be absolute", target)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Proxy{target: u, logger: logger, observer: opts.Observer}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      opts.Transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}
	return p, nil
}

// ServeHTTP rejects requests without a signed-in session and forwards the rest.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	store := session.FromContext(r.Context())
	if store == nil || !store.IsAuthenticated() {
		p.observe("unauthenticated")
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Path = stripPrefix(pr.In.URL.Path)
	pr.Out.URL.RawPath = stripPrefix(pr.In.URL.RawPath)
	pr.SetURL(p.target)
	pr.SetXForwarded()
	pr.Out.Header.Del("Cookie")
	if isAssetList(pr.In.Method, stripPrefix(pr.In.URL.Path)) {
		// Let the transport negotiate and decode compression so the body can be filtered.
		pr.Out.Header.Del("Accept-Encoding")
	}
	if store := session.FromContext(pr.In.Context()); store != nil {
		pr.Out.Header.Set("Authorization", "Bearer "+store.Token())
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusUnauthorized {
		if err := p.scopeAssets(resp); err != nil {
			return err
		}
		p.observe("ok")
		return nil
	}
	p.observe("unauthorized")
	ctx := resp.Request.Context()
	if store := session.FromContext(ctx); store != nil {
		if err := store.Logout(ctx); err != nil {
			p.logger.WarnContext(ctx, "logout after backend 401", slog.Any("error", err))
		} else {
			p.logger.InfoContext(ctx, "backend rejected token, session logged out", slog.String("path", resp.Request.URL.Path))
		}
	}
	return nil
}

// scopeAssets drops asset rows held at locations the signed-in user is not assigned to.
func (p *Proxy) scopeAssets(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK || resp.Request == nil {
		return nil
	}
	path := strings.TrimPrefix(resp.Request.URL.Path, strings.TrimRight(p.target.Path, "/"))
	if !isAssetList(resp.Request.Method, path) {
		return nil
	}
	store := session.FromContext(resp.Request.Context())
	if store == nil {
		return nil
	}
	user := store.CurrentUser()
	if user == nil || len(user.Locations) == 0 {
		return nil
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return fmt.Errorf("proxy: cannot scope %s encoded asset list", enc)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScopedBody+1))
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("proxy: read asset list: %w", err)
	}
	if len(data) > maxScopedBody {
		return fmt.Errorf("proxy: asset list exceeds %d bytes", maxScopedBody)
	}
	filtered, err := filterAssets(user, data)
	if err != nil {
		return fmt.Errorf("proxy: scope asset list: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(filtered))
	resp.ContentLength = int64(len(filtered))
	resp.Header.Set("Content-Length", strconv.Itoa(len(filtered)))
	return nil
}

type assetRow struct {
	raw      json.RawMessage
	location string
}

func filterAssets(user *identity.User, data []byte) ([]byte, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	parsed := make([]assetRow, 0, len(rows))
	for _, raw := range rows {
		var fields struct {
			Location string `json:"location"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		parsed = append(parsed, assetRow{raw: raw, location: fields.Location})
	}
	visible := authz.FilterByLocation(user, parsed, func(a assetRow) string { return a.location })
	out := make([]json.RawMessage, 0, len(visible))
	for _, row := range visible {
		out = append(out, row.raw)
	}
	return json.Marshal(out)
}

func isAssetList(method, path string) bool {
	return method == http.MethodGet && strings.TrimSuffix(path, "/") == assetListPath
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.observe("error")
	p.logger.ErrorContext(r.Context(), "proxy backend call", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "backend unavailable")
}

func (p *Proxy) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObserveBackend("proxy", outcome)
	}
}

func stripPrefix(path string) string {
	if path == "" {
		return ""
	}
	trimmed := strings.TrimPrefix(path, Prefix)
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
