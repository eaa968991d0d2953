package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famis-lga/famis-portal/internal/shared"
	_ "github.com/famis-lga/famis-portal/testing"
)

func newManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return shared.NewSessionManager(client, "famis_session", time.Hour, false), mr
}

func TestSessionSurvivesRoundTrip(t *testing.T) {
	sm, _ := newManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("next", "/assets")
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Signed out"})

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "/assets", loaded.Get("next"))
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Signed out", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestClearFlashesDropsQueuedMessages(t *testing.T) {
	sm, _ := newManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back"})
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Profile saved"})

	sess.ClearFlashes()
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Signed out"})

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(res.Result().Cookies()[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Signed out", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestForgedCookieStartsFreshSession(t *testing.T) {
	sm, _ := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "../../etc"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "../../etc", sess.ID)
}

func TestDestroyExpiresCookieAndPayload(t *testing.T) {
	sm, mr := newManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	require.True(t, mr.Exists("famis:session:"+sess.ID))

	sm.Destroy(sess)
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	assert.False(t, mr.Exists("famis:session:"+sess.ID))
	assert.Equal(t, -1, res.Result().Cookies()[0].MaxAge)
}

func TestCSRFTokenLifecycle(t *testing.T) {
	sm, _ := newManager(t)
	csrf := shared.NewCSRFManager("csrf-secret")
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(sess, "forged"), shared.ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(sess, ""), shared.ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(nil, token), shared.ErrCSRFTokenMissing)

	_, err = csrf.EnsureToken(nil)
	assert.ErrorIs(t, err, shared.ErrSessionMissing)
}
