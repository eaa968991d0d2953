package guard_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famis-lga/famis-portal/internal/guard"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/session"
	_ "github.com/famis-lga/famis-portal/testing"
)

type fakeReader struct {
	user    *identity.User
	loading bool
}

func (f fakeReader) CurrentUser() *identity.User { return f.user }
func (f fakeReader) Token() string {
	if f.user == nil {
		return ""
	}
	return "token"
}
func (f fakeReader) IsAuthenticated() bool { return f.user != nil }
func (f fakeReader) IsLoading() bool       { return f.loading }

func TestDecide(t *testing.T) {
	auctioneer := &identity.User{ID: 1, Username: "a", Role: identity.RoleAuctionManager}
	legacy := &identity.User{ID: 2, Username: "b", Role: identity.RoleUser, Permissions: []string{"reports"}}

	cases := []struct {
		name     string
		reader   session.Reader
		required []string
		want     guard.State
	}{
		{"no store", nil, nil, guard.Unauthenticated},
		{"loading wins over everything", fakeReader{loading: true, user: auctioneer}, []string{"auctions"}, guard.Pending},
		{"signed out", fakeReader{}, nil, guard.Unauthenticated},
		{"signed out with caps", fakeReader{}, []string{"assets"}, guard.Unauthenticated},
		{"no caps required", fakeReader{user: legacy}, nil, guard.Authorized},
		{"role grant", fakeReader{user: auctioneer}, []string{"auctions"}, guard.Authorized},
		{"any of", fakeReader{user: auctioneer}, []string{"maintenance", "assets"}, guard.Authorized},
		{"missing", fakeReader{user: auctioneer}, []string{"users"}, guard.Forbidden},
		{"permission list", fakeReader{user: legacy}, []string{"reports"}, guard.Authorized},
		{"exact match only", fakeReader{user: legacy}, []string{"Reports"}, guard.Forbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, guard.Decide(tc.reader, tc.required...))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", guard.Pending.String())
	assert.Equal(t, "unauthenticated", guard.Unauthenticated.String())
	assert.Equal(t, "forbidden", guard.Forbidden.String())
	assert.Equal(t, "authorized", guard.Authorized.String())
	assert.Equal(t, "unknown", guard.State(42).String())
}

type recorder struct {
	mu        sync.Mutex
	decisions []string
}

func (r *recorder) ObserveGuard(route, decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, route+" "+decision)
}

type pageRenderer struct {
	page string
	data any
	err  error
}

func (p *pageRenderer) RenderPage(w http.ResponseWriter, _ *http.Request, status int, page, title string, data any) error {
	if p.err != nil {
		return p.err
	}
	p.page, p.data = page, data
	w.WriteHeader(status)
	_, _ = w.Write([]byte(title))
	return nil
}

func storeWith(t *testing.T, user *identity.User, resolve bool) *session.Store {
	t.Helper()
	store := session.NewStore(session.NewMemoryStorage(), nil)
	if resolve {
		store.Rehydrate(context.Background())
	}
	if user != nil {
		require.NoError(t, store.Login(context.Background(), "token", user))
	}
	return store
}

func serve(t *testing.T, g guard.Guard, store *session.Store, req *http.Request, caps ...string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store != nil {
				r = r.WithContext(session.ContextWithStore(r.Context(), store))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.With(g.Require(caps...)).Get("/assets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("assets page"))
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthorized(t *testing.T) {
	metrics := &recorder{}
	g := guard.Guard{Metrics: metrics}
	store := storeWith(t, &identity.User{ID: 3, Username: "m", Role: identity.RoleMaintenanceManager}, false)

	rec := serve(t, g, store, httptest.NewRequest(http.MethodGet, "/assets", nil), "assets", "maintenance")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "assets page", rec.Body.String())
	assert.Equal(t, []string{"/assets authorized"}, metrics.decisions)
}

func TestRequireRedirectsAnonymousToLogin(t *testing.T) {
	store := storeWith(t, nil, true)
	rec := serve(t, guard.Guard{}, store, httptest.NewRequest(http.MethodGet, "/assets?site=HQ", nil), "assets")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login?next=%2Fassets%3Fsite%3DHQ", rec.Header().Get("Location"))
}

func TestRequireWithoutStoreTreatsRequestAsAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/assets", nil)
	req.Header.Set("Accept", "application/json")
	rec := serve(t, guard.Guard{}, nil, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":401`)
}

func TestRequireRendersDeniedInline(t *testing.T) {
	renderer := &pageRenderer{}
	metrics := &recorder{}
	store := storeWith(t, &identity.User{ID: 4, Username: "d", Role: identity.RoleDisposalManager}, false)

	rec := serve(t, guard.Guard{Renderer: renderer, Metrics: metrics}, store, httptest.NewRequest(http.MethodGet, "/assets", nil), "users")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Equal(t, "denied", renderer.page)
	page, ok := renderer.data.(guard.DeniedPage)
	require.True(t, ok)
	assert.Equal(t, []string{"users"}, page.Required)
	assert.Equal(t, "/disposals", page.Landing)
	assert.Equal(t, []string{"/assets forbidden"}, metrics.decisions)
}

func TestRequirePendingAsksBrowserToRetry(t *testing.T) {
	renderer := &pageRenderer{}
	store := storeWith(t, nil, false)

	rec := serve(t, guard.Guard{Renderer: renderer, RetryAfter: 3}, store, httptest.NewRequest(http.MethodGet, "/assets", nil), "assets")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Refresh"))
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Equal(t, "pending", renderer.page)
}

func TestRequireFallsBackToPlainTextWhenRenderFails(t *testing.T) {
	store := storeWith(t, &identity.User{ID: 5, Username: "u", Role: identity.RoleUser}, false)
	rec := serve(t, guard.Guard{Renderer: &pageRenderer{err: errors.New("boom")}}, store, httptest.NewRequest(http.MethodGet, "/assets", nil), "assets")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Permission Denied")
}

func TestRequireReevaluatesAfterLogout(t *testing.T) {
	store := storeWith(t, &identity.User{ID: 6, Username: "x", Role: identity.RoleAdmin}, false)
	g := guard.Guard{}

	rec := serve(t, g, store, httptest.NewRequest(http.MethodGet, "/assets", nil), "assets")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, store.Logout(context.Background()))
	rec = serve(t, g, store, httptest.NewRequest(http.MethodGet, "/assets", nil), "assets")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}
