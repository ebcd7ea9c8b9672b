package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventra/internal/audit"
	audithttp "github.com/odyssey-erp/inventra/internal/audit/http"
	"github.com/odyssey-erp/inventra/internal/authz"
	authzhttp "github.com/odyssey-erp/inventra/internal/authz/http"
	"github.com/odyssey-erp/inventra/internal/guard"
	"github.com/odyssey-erp/inventra/internal/observability"
	"github.com/odyssey-erp/inventra/internal/shared"
	"github.com/odyssey-erp/inventra/jobs"
	_ "github.com/odyssey-erp/inventra/testing"
)

type routerFixture struct {
	handler  http.Handler
	sessions *shared.SessionManager
	redis    *miniredis.Miniredis
	store    *authz.MemoryStore
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	metrics := observability.NewMetrics()
	store := authz.NewMemoryStore()
	resolver := authz.NewResolver(authz.DefaultCatalog(), store, authz.ResolverConfig{Observer: metrics})
	service := authz.NewService(store, nil, authz.ServiceConfig{})
	sessions := shared.NewSessionManager(client, "inventra_session", "secret", time.Hour, false)

	handler := NewRouter(RouterParams{
		Config:             &Config{AppEnv: "development", AppRequestTimeout: 5 * time.Second},
		SessionManager:     sessions,
		Guard:              guard.New(resolver, sessions, guard.Config{}),
		PermissionsHandler: authzhttp.NewHandler(nil, resolver, service, shared.NewIdempotencyStore(client, time.Hour)),
		AuditHandler:       audithttp.NewHandler(nil, audit.NewService(store)),
		JobHandler:         jobs.NewHandler(nil, nil),
		Metrics:            metrics,
	})
	return &routerFixture{handler: handler, sessions: sessions, redis: mr, store: store}
}

func (f *routerFixture) login(t *testing.T, userID int64, role authz.Role) *http.Cookie {
	t.Helper()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := f.sessions.Load(ctx, req)
	require.NoError(t, err)
	sess.SetIdentity(userID, role, 0)
	rec := httptest.NewRecorder()
	require.NoError(t, f.sessions.Commit(ctx, rec, req, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func (f *routerFixture) get(target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.get("/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPermissionsRequireSession(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.get("/permissions/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestSessionIdentityReachesHandlers(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.login(t, 9, authz.RoleAccountant)

	rec := f.get("/permissions/me", cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"role":"accountant"`)

	rec = f.get("/permissions/history", cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := f.login(t, 1, authz.RoleAdmin)
	rec = f.get("/permissions/history", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionOutageIs503(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.login(t, 1, authz.RoleAdmin)
	f.redis.Close()

	rec := f.get("/permissions/me", cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndJobsMounted(t *testing.T) {
	f := newRouterFixture(t)
	f.get("/permissions/history", f.login(t, 1, authz.RoleAdmin))

	rec := f.get("/jobs/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get("/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "inventra_http_requests_total"), body)
	assert.Contains(t, body, "inventra_authz_decisions_total")
}
