// Package guard protects HTTP handlers and other entry points with
// role and resource-action policies evaluated by the authz resolver.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/platform/httpx"
)

// Identity is the authenticated caller as reported by the session layer.
// BusinessID is the caller's current business, if the session tracks one;
// a business named by the request takes precedence over it.
type Identity struct {
	UserID     int64
	Role       authz.Role
	BusinessID int64
}

// SessionProvider resolves the caller of a request.
type SessionProvider interface {
	Identity(r *http.Request) (Identity, bool)
}

// SessionProviderFunc adapts a function to SessionProvider.
type SessionProviderFunc func(r *http.Request) (Identity, bool)

// Identity implements SessionProvider.
func (f SessionProviderFunc) Identity(r *http.Request) (Identity, bool) { return f(r) }

type identityKey struct{}

// WithIdentity stores an authorized identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity the guard attached on allow.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Config tunes a Guard.
type Config struct {
	// Extractors resolve the business scope, first match wins. Defaults to
	// DefaultExtractors.
	Extractors []Extractor
	Logger     *slog.Logger
}

// Guard wraps handlers with authorization checks.
type Guard struct {
	resolver   *authz.Resolver
	sessions   SessionProvider
	extractors []Extractor
	// pinned guards take the business only from their extractors.
	pinned bool
	logger *slog.Logger
}

// New constructs a Guard.
func New(resolver *authz.Resolver, sessions SessionProvider, cfg Config) *Guard {
	if cfg.Extractors == nil {
		cfg.Extractors = DefaultExtractors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{resolver: resolver, sessions: sessions, extractors: cfg.Extractors, logger: cfg.Logger}
}

// Scoped returns a guard that resolves the business only through extractors.
// The session's business is never used as a fallback, so the checked scope
// is exactly the one the wrapped handler reads. Routes that write to a
// business named in their path must use a guard scoped to that parameter.
func (g *Guard) Scoped(extractors ...Extractor) *Guard {
	scoped := *g
	scoped.extractors = append([]Extractor(nil), extractors...)
	scoped.pinned = true
	return &scoped
}

// Require returns middleware enforcing policy. Denials never reach next.
func (g *Guard) Require(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id Identity
			ok := false
			if g.sessions != nil {
				id, ok = g.sessions.Identity(r)
			}
			if !ok || id.UserID <= 0 || id.Role == "" {
				writeDenial(w, authz.ErrUnauthenticated)
				return
			}
			if businessID, found := ResolveBusinessID(r, g.extractors); found {
				id.BusinessID = businessID
			} else if g.pinned {
				id.BusinessID = 0
			}

			if err := g.Check(r.Context(), id, policy); err != nil {
				g.logger.Info("request denied",
					slog.Int64("user_id", id.UserID),
					slog.String("role", string(id.Role)),
					slog.Int64("business_id", id.BusinessID),
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()))
				writeDenial(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAll is shorthand for Require(RequireAll(...)).
func (g *Guard) RequireAll(resource authz.Resource, actions ...authz.Action) func(http.Handler) http.Handler {
	return g.Require(RequireAll(resource, actions...))
}

// RequireAny is shorthand for Require(RequireAny(...)).
func (g *Guard) RequireAny(resource authz.Resource, actions ...authz.Action) func(http.Handler) http.Handler {
	return g.Require(RequireAny(resource, actions...))
}

// Check evaluates policy for id without any HTTP machinery. It returns nil
// on allow, ErrUnauthenticated for a missing identity and a
// *authz.ForbiddenError otherwise.
func (g *Guard) Check(ctx context.Context, id Identity, policy Policy) error {
	if id.UserID <= 0 || id.Role == "" {
		return authz.ErrUnauthenticated
	}
	switch p := policy.(type) {
	case RoleAllowList:
		return checkRoles(id, p)
	case ResourceAction:
		return g.checkAction(ctx, id, p)
	case Combined:
		if err := checkRoles(id, p.AllowList); err != nil {
			return err
		}
		return g.checkAction(ctx, id, p.Check)
	default:
		return &authz.ForbiddenError{}
	}
}

func checkRoles(id Identity, p RoleAllowList) error {
	if p.admits(id.Role) {
		return nil
	}
	return &authz.ForbiddenError{Roles: p.Roles}
}

func (g *Guard) checkAction(ctx context.Context, id Identity, p ResourceAction) error {
	subj := authz.Subject{UserID: id.UserID, Role: id.Role, BusinessID: id.BusinessID}
	var allowed bool
	if p.RequireAny {
		allowed = g.resolver.DecideAny(ctx, subj, p.Resource, p.Actions...)
	} else {
		allowed = g.resolver.DecideAll(ctx, subj, p.Resource, p.Actions...)
	}
	if allowed {
		return nil
	}
	return &authz.ForbiddenError{Resource: p.Resource, Actions: p.Actions}
}

type denial struct {
	httpx.ProblemDetail
	Resource string   `json:"resource,omitempty"`
	Actions  []string `json:"actions,omitempty"`
}

func writeDenial(w http.ResponseWriter, err error) {
	if errors.Is(err, authz.ErrUnauthenticated) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	body := denial{ProblemDetail: httpx.ProblemDetail{
		Title:  "Forbidden",
		Status: http.StatusForbidden,
		Detail: "insufficient permissions",
	}}
	var fe *authz.ForbiddenError
	if errors.As(err, &fe) {
		body.Resource = string(fe.Resource)
		for _, a := range fe.Actions {
			body.Actions = append(body.Actions, string(a))
		}
		if len(fe.Roles) > 0 {
			body.Detail = "role not permitted"
		}
	}
	httpx.ProblemWith(w, body)
}
