package perf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
)

var benchNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seededResolver(tb testing.TB, users int) *authz.Resolver {
	tb.Helper()
	store := authz.NewMemoryStore()
	for u := int64(1); u <= int64(users); u++ {
		_, _, err := store.UpsertOverride(context.Background(), authz.UpsertParams{
			UserID: u, BusinessID: 1, ActorID: 1, Reason: "bench",
			Added:      authz.PermissionMap{authz.ResourceSales: authz.NewActionSet(authz.ActionExport)},
			Removed:    authz.PermissionMap{authz.ResourceStock: authz.NewActionSet(authz.ActionRead)},
			ActionType: authz.ActionTypeMixed, Now: benchNow,
		})
		if err != nil {
			tb.Fatalf("seed override: %v", err)
		}
	}
	return authz.NewResolver(authz.DefaultCatalog(), store, authz.ResolverConfig{Now: func() time.Time { return benchNow }})
}

func guardedRouter(resolver *authz.Resolver, id guard.Identity) http.Handler {
	g := guard.New(resolver, guard.SessionProviderFunc(func(*http.Request) (guard.Identity, bool) {
		return id, true
	}), guard.Config{})
	r := chi.NewRouter()
	r.With(g.RequireAll(authz.ResourceSales, authz.ActionExport)).Get("/sales/export", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func TestGuardLatencyTargets(t *testing.T) {
	handler := guardedRouter(seededResolver(t, 500), guard.Identity{UserID: 250, Role: authz.RoleClerk})
	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		req := httptest.NewRequest(http.MethodGet, "/sales/export?business_id=1", nil)
		rec := httptest.NewRecorder()
		start := time.Now()
		handler.ServeHTTP(rec, req)
		samples = append(samples, time.Since(start))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected grant to admit request, got %d", rec.Code)
		}
	}
	if p95 := percentile95(samples); p95 > 50*time.Millisecond {
		t.Fatalf("guard latency regression: p95=%s", p95)
	}
}

func BenchmarkResolverDecide(b *testing.B) {
	resolver := seededResolver(b, 1000)
	subj := authz.Subject{UserID: 500, Role: authz.RoleClerk, BusinessID: 1}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.Decide(ctx, subj, authz.ResourceStock, authz.ActionRead)
	}
}

func BenchmarkBuildEffectivePermissions(b *testing.B) {
	resolver := seededResolver(b, 1000)
	subj := authz.Subject{UserID: 500, Role: authz.RoleManager, BusinessID: 1}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.BuildEffectivePermissions(ctx, subj)
	}
}

func BenchmarkGuardRequire(b *testing.B) {
	handler := guardedRouter(seededResolver(b, 1000), guard.Identity{UserID: 500, Role: authz.RoleClerk})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/export?business_id=1", nil))
		}
	})
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
