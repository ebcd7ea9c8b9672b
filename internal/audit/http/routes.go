package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
	"github.com/odyssey-erp/inventra/internal/platform/httpx"
)

const rateLimit = 10
const rateWindow = time.Minute

// HistoryPolicy guards the history listing: a permissions:read grant plus the
// legacy admin/manager allow-list.
var HistoryPolicy = guard.Combine(
	guard.AllowRoles(authz.RoleAdmin, authz.RoleManager),
	guard.RequireAll(authz.ResourcePermissions, authz.ActionRead),
)

// ExportPolicy guards the CSV export.
var ExportPolicy = guard.RequireAll(authz.ResourcePermissions, authz.ActionExport)

// MountRoutes mendaftarkan endpoint riwayat override dan ekspor CSV.
func (h *Handler) MountRoutes(r chi.Router, g *guard.Guard) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	filtered := g.Scoped(guard.FromQuery(guard.BusinessField))
	r.With(filtered.Require(HistoryPolicy)).Get("/history", h.handleHistory)
	r.Group(func(gr chi.Router) {
		gr.Use(filtered.Require(ExportPolicy))
		gr.Use(limiter)
		gr.Get("/history/export", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := guard.IdentityFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(id.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
