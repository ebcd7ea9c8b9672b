package shared

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

	"github.com/odyssey-erp/inventra/internal/authz"
)

func newManager(t *testing.T) (*SessionManager, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "inventra_session", "secret", time.Hour, false), mr, client
}

func TestAnonymousSessionIsNotPersisted(t *testing.T) {
	sm, mr, _ := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, req, sess))
	assert.Empty(t, mr.Keys())
	assert.Empty(t, rec.Result().Cookies())

	_, ok := sm.Identity(req.WithContext(ContextWithSession(req.Context(), sess)))
	assert.False(t, ok)
}

func TestIdentityRoundTripsThroughCookie(t *testing.T) {
	sm, _, _ := newManager(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SetIdentity(7, authz.RoleClerk, 42)

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)

	id, ok := sm.Identity(next.WithContext(ContextWithSession(ctx, loaded)))
	require.True(t, ok)
	assert.EqualValues(t, 7, id.UserID)
	assert.Equal(t, authz.RoleClerk, id.Role)
	assert.EqualValues(t, 42, id.BusinessID)
}

func TestBearerTokenSelectsSession(t *testing.T) {
	sm, _, _ := newManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetIdentity(9, authz.RoleManager, 0)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.ID)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 9, loaded.User())
	assert.Equal(t, authz.RoleManager, loaded.Role())
	assert.Zero(t, loaded.Business())
}

func TestDestroyRemovesSession(t *testing.T) {
	sm, mr, _ := newManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetIdentity(7, authz.RoleClerk, 0)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, nil, sess))
	assert.False(t, mr.Exists("session:"+sess.ID))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestLoadReportsBackendOutage(t *testing.T) {
	sm, mr, _ := newManager(t)
	mr.Close()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "abc"})
	_, err := sm.Load(context.Background(), req)
	require.ErrorIs(t, err, ErrSessionUnavailable)
}

func TestIdempotencyStoreRejectsReplays(t *testing.T) {
	_, mr, client := newManager(t)
	store := NewIdempotencyStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "permissions"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "permissions"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "sales"))

	require.NoError(t, store.Delete(ctx, "k1", "permissions"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "permissions"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "permissions"))

	require.Error(t, store.CheckAndInsert(ctx, "", "permissions"))
}

func TestIssueCreatesBearerSession(t *testing.T) {
	sm, mr, _ := newManager(t)
	ctx := context.Background()
	sess, err := sm.Issue(ctx, 3, authz.RoleAccountant, 42)
	require.NoError(t, err)
	require.True(t, mr.Exists("session:"+sess.ID))
	ttl := mr.TTL("session:" + sess.ID)
	assert.Equal(t, time.Hour, ttl)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.ID)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 42, loaded.Business())

	_, err = sm.Issue(ctx, 3, authz.Role("owner"), 0)
	require.ErrorIs(t, err, authz.ErrValidation)
}

func TestOverrideLockKey(t *testing.T) {
	assert.Equal(t, "permission_override:7:42", OverrideLockKey(7, 42))
}

func TestStoredUnknownRoleIsAnonymous(t *testing.T) {
	sm, mr, _ := newManager(t)
	require.NoError(t, mr.Set("session:legacy", `{"values":{},"user_id":7,"role":"owner","business_id":42}`))
	mr.SetTTL("session:legacy", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer legacy")
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 7, sess.User())
	assert.Empty(t, sess.Role())

	_, ok := sm.Identity(req.WithContext(ContextWithSession(req.Context(), sess)))
	assert.False(t, ok)
}
