package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventra/internal/audit"
	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
)

type stubHistoryService struct {
	result      audit.Result
	csv         []byte
	lastFilters audit.Filters
}

func (s *stubHistoryService) Query(ctx context.Context, filters audit.Filters) (audit.Result, error) {
	s.lastFilters = filters
	if filters.ActionType != "" && !filters.ActionType.Valid() {
		return audit.Result{}, authz.ErrValidation
	}
	return s.result, nil
}

func (s *stubHistoryService) Export(ctx context.Context, filters audit.Filters) ([]byte, error) {
	s.lastFilters = filters
	return s.csv, nil
}

func newRouter(t *testing.T, service *stubHistoryService, role authz.Role) http.Handler {
	t.Helper()
	resolver := authz.NewResolver(authz.DefaultCatalog(), authz.NewMemoryStore(), authz.ResolverConfig{})
	g := guard.New(resolver, guard.SessionProviderFunc(func(*http.Request) (guard.Identity, bool) {
		return guard.Identity{UserID: 7, Role: role}, role != ""
	}), guard.Config{})
	r := chi.NewRouter()
	r.Route("/permissions", func(r chi.Router) {
		NewHandler(nil, service).MountRoutes(r, g)
	})
	return r
}

func TestHistoryRequiresAllowListedRole(t *testing.T) {
	service := &stubHistoryService{}
	rr := httptest.NewRecorder()
	newRouter(t, service, authz.RoleAccountant).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/permissions/history", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newRouter(t, service, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/permissions/history", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHistoryReturnsRows(t *testing.T) {
	rows := []authz.HistoryEntry{{ID: 1, ActorID: 1, UserID: 7, ActionType: authz.ActionTypeGrant, Reason: "cover",
		CreatedAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)}}
	service := &stubHistoryService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 2, PageSize: 10}}}
	req := httptest.NewRequest(http.MethodGet, "/permissions/history?user_id=7&action_type=GRANT&q=cover&page=2&page_size=10", nil)
	rr := httptest.NewRecorder()
	newRouter(t, service, authz.RoleManager).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Reason != "cover" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	f := service.lastFilters
	if f.UserID != 7 || f.ActionType != authz.ActionTypeGrant || f.Text != "cover" || f.Page != 2 || f.PageSize != 10 {
		t.Fatalf("unexpected filters: %+v", f)
	}
}

func TestHistoryRejectsBadFilters(t *testing.T) {
	for _, target := range []string{
		"/permissions/history?user_id=abc",
		"/permissions/history?page=-1",
		"/permissions/history?action_type=teleport",
	} {
		rr := httptest.NewRecorder()
		newRouter(t, &stubHistoryService{}, authz.RoleAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubHistoryService{csv: []byte("id\n")}
	rr := httptest.NewRecorder()
	newRouter(t, service, authz.RoleAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/permissions/history/export?actor_id=3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if service.lastFilters.ActorID != 3 {
		t.Fatalf("unexpected filters: %+v", service.lastFilters)
	}
}

func TestExportRequiresExportPermission(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(t, &stubHistoryService{}, authz.RoleManager).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/permissions/history/export", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
