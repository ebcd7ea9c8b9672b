package guard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/inventra/internal/authz"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type countingReader struct {
	inner   authz.OverrideReader
	lookups int
}

func (c *countingReader) ActiveOverride(ctx context.Context, userID, businessID int64, now time.Time) (*authz.Override, error) {
	c.lookups++
	return c.inner.ActiveOverride(ctx, userID, businessID, now)
}

type GuardSuite struct {
	suite.Suite
	store    *authz.MemoryStore
	reader   *countingReader
	guard    *Guard
	identity Identity
	signedIn bool
	reached  bool
	body     string
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.store = authz.NewMemoryStore()
	s.reader = &countingReader{inner: s.store}
	resolver := authz.NewResolver(authz.DefaultCatalog(), s.reader, authz.ResolverConfig{
		Now: func() time.Time { return testNow },
	})
	s.identity = Identity{UserID: 7, Role: authz.RoleClerk}
	s.signedIn = true
	s.reached = false
	s.body = ""
	s.guard = New(resolver, SessionProviderFunc(func(*http.Request) (Identity, bool) {
		return s.identity, s.signedIn
	}), Config{})
}

func (s *GuardSuite) override(added, removed authz.PermissionMap) {
	_, _, err := s.store.UpsertOverride(context.Background(), authz.UpsertParams{
		UserID: 7, BusinessID: 42, ActorID: 1, Added: added, Removed: removed,
		Reason: "test", ActionType: authz.Classify(added, removed), Now: testNow,
	})
	s.Require().NoError(err)
}

func (s *GuardSuite) router(policy Policy) http.Handler {
	r := chi.NewRouter()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.reached = true
		raw, _ := io.ReadAll(r.Body)
		s.body = string(raw)
		id, ok := IdentityFromContext(r.Context())
		s.Require().True(ok)
		w.Header().Set("X-Business", strconv.FormatInt(id.BusinessID, 10))
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(s.guard.Require(policy)).Post("/sales", handler)
	r.With(s.guard.Require(policy)).Get("/sales", handler)
	r.With(s.guard.Require(policy)).Get("/businesses/{businessID}/sales", handler)
	return r
}

func (s *GuardSuite) serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (s *GuardSuite) TestUnauthenticatedIs401() {
	s.signedIn = false
	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.reached)
}

func (s *GuardSuite) TestMissingRoleIs401() {
	s.identity.Role = ""
	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *GuardSuite) TestRoleDefaultAllowsWithoutBusiness() {
	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("0", rec.Header().Get("X-Business"))
	s.Zero(s.reader.lookups)
}

func (s *GuardSuite) TestForbiddenBodyNamesResourceAndActions() {
	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionExport)), httptest.NewRequest(http.MethodGet, "/sales?business_id=42", nil))
	s.Equal(http.StatusForbidden, rec.Code)
	s.False(s.reached)

	var problem struct {
		Status   int      `json:"status"`
		Resource string   `json:"resource"`
		Actions  []string `json:"actions"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &problem))
	s.Equal(http.StatusForbidden, problem.Status)
	s.Equal("sales", problem.Resource)
	s.Equal([]string{"export"}, problem.Actions)
}

func (s *GuardSuite) TestQueryBusinessAppliesGrant() {
	s.override(authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionExport)}, nil)
	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionExport)), httptest.NewRequest(http.MethodGet, "/sales?business_id=42", nil))
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("42", rec.Header().Get("X-Business"))
}

func (s *GuardSuite) TestPathBusinessAppliesRevoke() {
	s.override(nil, authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionRead)})
	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/businesses/42/sales", nil))
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/businesses/43/sales", nil))
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *GuardSuite) TestBodyBusinessWinsAndBodyIsRestored() {
	s.override(authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionRefund)}, nil)
	payload := `{"business_id": 42, "amount": 10}`
	req := httptest.NewRequest(http.MethodPost, "/sales?business_id=99", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionRefund)), req)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("42", rec.Header().Get("X-Business"))
	s.Equal(payload, s.body)
}

func (s *GuardSuite) TestSessionBusinessIsTheFallback() {
	s.override(authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionExport)}, nil)
	s.identity.BusinessID = 42
	policy := RequireAll(authz.ResourceSales, authz.ActionExport)

	rec := s.serve(s.router(policy), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("42", rec.Header().Get("X-Business"))

	rec = s.serve(s.router(policy), httptest.NewRequest(http.MethodGet, "/sales?business_id=43", nil))
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *GuardSuite) TestScopedGuardReadsOnlyItsExtractors() {
	s.override(authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionExport)}, nil)
	scoped := s.guard.Scoped(FromPath(BusinessParam))
	policy := RequireAll(authz.ResourceSales, authz.ActionExport)
	r := chi.NewRouter()
	r.With(scoped.Require(policy)).Post("/businesses/{businessID}/sales", func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		w.Header().Set("X-Business", strconv.FormatInt(id.BusinessID, 10))
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(scoped.Require(policy)).Get("/sales", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/businesses/43/sales?business_id=42", strings.NewReader(`{"business_id":42}`))
	req.Header.Set("Content-Type", "application/json")
	s.Equal(http.StatusForbidden, s.serve(r, req).Code)

	s.identity.BusinessID = 42
	s.Equal(http.StatusForbidden, s.serve(r, httptest.NewRequest(http.MethodPost, "/businesses/43/sales", nil)).Code)
	s.Equal(http.StatusForbidden, s.serve(r, httptest.NewRequest(http.MethodGet, "/sales", nil)).Code)

	rec := s.serve(r, httptest.NewRequest(http.MethodPost, "/businesses/42/sales?business_id=43", nil))
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("42", rec.Header().Get("X-Business"))

	rec = s.serve(s.router(policy), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusNoContent, rec.Code, "unscoped guard still falls back to the session")
}

func (s *GuardSuite) TestRequireAnyNeedsOneAction() {
	rec := s.serve(s.router(RequireAny(authz.ResourceSales, authz.ActionExport, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.serve(s.router(RequireAll(authz.ResourceSales, authz.ActionExport, authz.ActionRead)), httptest.NewRequest(http.MethodGet, "/sales", nil))
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *GuardSuite) TestAllowListRejectsBeforeLookup() {
	s.override(authz.PermissionMap{authz.ResourcePermissions: authz.NewActionSet(authz.ActionRead)}, nil)
	policy := Combine(AllowRoles(authz.RoleAdmin, authz.RoleManager), RequireAll(authz.ResourcePermissions, authz.ActionRead))

	rec := s.serve(s.router(policy), httptest.NewRequest(http.MethodGet, "/sales?business_id=42", nil))
	s.Equal(http.StatusForbidden, rec.Code)
	s.Zero(s.reader.lookups)

	s.identity.Role = authz.RoleManager
	rec = s.serve(s.router(policy), httptest.NewRequest(http.MethodGet, "/sales?business_id=42", nil))
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *GuardSuite) TestAllowListAloneIgnoresOverrides() {
	s.override(nil, authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionRead)})
	s.identity.Role = authz.RoleManager
	rec := s.serve(s.router(AllowRoles(authz.RoleManager)), httptest.NewRequest(http.MethodGet, "/sales?business_id=42", nil))
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *GuardSuite) TestCheckWithoutHTTP() {
	ctx := context.Background()
	s.NoError(s.guard.Check(ctx, s.identity, RequireAll(authz.ResourceSales, authz.ActionRead)))
	s.ErrorIs(s.guard.Check(ctx, Identity{}, RequireAll(authz.ResourceSales, authz.ActionRead)), authz.ErrUnauthenticated)

	err := s.guard.Check(ctx, s.identity, RequireAll(authz.ResourceUsers, authz.ActionDelete))
	s.ErrorIs(err, authz.ErrForbidden)
	var fe *authz.ForbiddenError
	s.Require().ErrorAs(err, &fe)
	s.Equal(authz.ResourceUsers, fe.Resource)

	s.ErrorIs(s.guard.Check(ctx, s.identity, RequireAny(authz.ResourceSales)), authz.ErrForbidden)
}

func TestResolveBusinessIDOrder(t *testing.T) {
	cases := []struct {
		name   string
		target string
		body   string
		ctype  string
		want   int64
		found  bool
	}{
		{name: "none", target: "/x"},
		{name: "query", target: "/x?business_id=5", want: 5, found: true},
		{name: "body over query", target: "/x?business_id=5", body: `{"business_id":"6"}`, ctype: "application/json", want: 6, found: true},
		{name: "non-json body ignored", target: "/x?business_id=5", body: `business_id=6`, ctype: "application/x-www-form-urlencoded", want: 5, found: true},
		{name: "invalid value skipped", target: "/x?business_id=abc"},
		{name: "non-positive skipped", target: "/x?business_id=0"},
		{name: "malformed json falls back", target: "/x?business_id=5", body: `{`, ctype: "application/json", want: 5, found: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			req := httptest.NewRequest(http.MethodPost, tc.target, body)
			if tc.ctype != "" {
				req.Header.Set("Content-Type", tc.ctype)
			}
			id, ok := ResolveBusinessID(req, DefaultExtractors())
			if ok != tc.found || id != tc.want {
				t.Fatalf("got (%d,%v) want (%d,%v)", id, ok, tc.want, tc.found)
			}
		})
	}
}
