package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famis-lga/famis-portal/internal/backend"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/session"
	"github.com/famis-lga/famis-portal/internal/shared"
)

type stubAPI struct {
	user  *identity.User
	err   error
	calls int
}

func (s *stubAPI) Login(context.Context, string, string) (string, error) { return "tok", nil }

func (s *stubAPI) CurrentUser(context.Context, string) (*identity.User, error) {
	s.calls++
	return s.user, s.err
}

type clock struct{ at time.Time }

func (c *clock) now() time.Time { return c.at }

func serveRevalidate(t *testing.T, svc *Service, store *session.Store, sess *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/assets", nil)
	ctx := session.ContextWithStore(shared.ContextWithSession(req.Context(), sess), store)
	var reached bool
	h := svc.RevalidateEvery(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
	require.True(t, reached)
}

func signedInStore(t *testing.T, user *identity.User) *session.Store {
	t.Helper()
	store := session.NewStore(session.NewMemoryStorage(), nil)
	require.NoError(t, store.Login(context.Background(), "tok", user))
	return store
}

func TestRevalidateRefreshesChangedRole(t *testing.T) {
	api := &stubAPI{user: &identity.User{ID: 1, Username: "ama", Role: identity.RoleAssetManager}}
	svc := NewService(api, nil, nil)
	c := &clock{at: time.Unix(1_700_000_000, 0)}
	svc.now = c.now
	store := signedInStore(t, &identity.User{ID: 1, Username: "ama", Role: identity.RoleUser})
	sess := &shared.Session{ID: "s"}

	serveRevalidate(t, svc, store, sess)
	assert.Equal(t, 1, api.calls)
	assert.Equal(t, identity.RoleAssetManager, store.CurrentUser().Role)

	c.at = c.at.Add(30 * time.Second)
	serveRevalidate(t, svc, store, sess)
	assert.Equal(t, 1, api.calls, "within the interval the backend is not asked again")

	c.at = c.at.Add(time.Minute)
	serveRevalidate(t, svc, store, sess)
	assert.Equal(t, 2, api.calls)
}

func TestRevalidateLogsOutRevokedToken(t *testing.T) {
	api := &stubAPI{err: backend.ErrUnauthorized}
	svc := NewService(api, nil, nil)
	store := signedInStore(t, &identity.User{ID: 2, Username: "kwame", Role: identity.RoleAdmin})
	sess := &shared.Session{ID: "s"}

	serveRevalidate(t, svc, store, sess)
	assert.False(t, store.IsAuthenticated())
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Contains(t, flash.Message, "session has ended")
}

func TestRevalidateKeepsIdentityWhenBackendIsDown(t *testing.T) {
	api := &stubAPI{err: backend.ErrUnavailable}
	svc := NewService(api, nil, nil)
	store := signedInStore(t, &identity.User{ID: 3, Username: "esi", Role: identity.RoleAdmin})

	err := svc.Revalidate(context.Background(), store)
	assert.True(t, errors.Is(err, backend.ErrUnavailable))
	assert.True(t, store.IsAuthenticated())
}

func TestRevalidateSkipsAnonymousSessions(t *testing.T) {
	api := &stubAPI{}
	svc := NewService(api, nil, nil)
	store := session.NewStore(session.NewMemoryStorage(), nil)
	store.Rehydrate(context.Background())

	serveRevalidate(t, svc, store, &shared.Session{ID: "s"})
	assert.Zero(t, api.calls)
}
