package authzhttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
)

// MountRoutes registers the permission routes on r, typically under /permissions.
func (h *Handler) MountRoutes(r chi.Router, g *guard.Guard) {
	signedIn := g.Require(guard.AllowRoles(authz.Roles()...))

	r.With(signedIn).Get("/me", h.handleMe)
	r.With(signedIn).Get("/catalog", h.handleCatalog)
	// Checked against the business in the path, which is the one written to.
	target := g.Scoped(guard.FromPath(guard.BusinessParam))
	r.Route("/users/{userID}/businesses/{businessID}", func(r chi.Router) {
		r.With(target.RequireAll(authz.ResourcePermissions, authz.ActionRead)).Get("/", h.handleUser)
		r.With(target.RequireAll(authz.ResourcePermissions, authz.ActionUpdate)).Put("/override", h.handleUpsert)
	})
}
