package authz

import (
	"context"
	"log/slog"
	"time"
)

// Subject identifies who is asking and in which business. A zero BusinessID
// means no business scope, in which case overrides never apply.
type Subject struct {
	UserID     int64
	Role       Role
	BusinessID int64
}

func (s Subject) identified() bool {
	return s.UserID > 0 && s.Role != ""
}

// DecisionObserver receives every resolved decision.
type DecisionObserver interface {
	ObserveDecision(resource Resource, action Action, allowed bool)
}

// Resolver combines the role catalog with the active override into a single
// allow/deny decision per (resource, action). It holds no mutable state.
type Resolver struct {
	catalog  *RoleCatalog
	reader   OverrideReader
	logger   *slog.Logger
	observer DecisionObserver
	now      func() time.Time
}

// ResolverConfig wires optional collaborators.
type ResolverConfig struct {
	Logger   *slog.Logger
	Observer DecisionObserver
	Now      func() time.Time
}

// NewResolver constructs a Resolver. A nil reader disables overrides.
func NewResolver(catalog *RoleCatalog, reader OverrideReader, cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{catalog: catalog, reader: reader, logger: logger, observer: cfg.Observer, now: now}
}

// Catalog exposes the injected role catalog.
func (r *Resolver) Catalog() *RoleCatalog { return r.catalog }

// Decide evaluates one pair: Revoke > Grant > RoleDefault > Deny.
func (r *Resolver) Decide(ctx context.Context, subj Subject, resource Resource, action Action) bool {
	if !subj.identified() {
		r.observe(resource, action, false)
		return false
	}
	allowed := r.decideWith(r.lookup(ctx, subj), subj.Role, resource, action)
	r.observe(resource, action, allowed)
	return allowed
}

// DecideAny allows when at least one action is allowed. Asking for nothing is
// a denial.
func (r *Resolver) DecideAny(ctx context.Context, subj Subject, resource Resource, actions ...Action) bool {
	if !subj.identified() || len(actions) == 0 {
		return false
	}
	o := r.lookup(ctx, subj)
	for _, a := range actions {
		allowed := r.decideWith(o, subj.Role, resource, a)
		r.observe(resource, a, allowed)
		if allowed {
			return true
		}
	}
	return false
}

// DecideAll allows only when every action is allowed. Asking for nothing is a
// denial.
func (r *Resolver) DecideAll(ctx context.Context, subj Subject, resource Resource, actions ...Action) bool {
	if !subj.identified() || len(actions) == 0 {
		return false
	}
	o := r.lookup(ctx, subj)
	for _, a := range actions {
		allowed := r.decideWith(o, subj.Role, resource, a)
		r.observe(resource, a, allowed)
		if !allowed {
			return false
		}
	}
	return true
}

// CanAccessResource is a coarse visibility check: the role grants some action
// on resource, or the override adds some. Per-action revokes are not
// consulted here; use Decide for enforcement.
func (r *Resolver) CanAccessResource(ctx context.Context, subj Subject, resource Resource) bool {
	if !subj.identified() {
		return false
	}
	if r.catalog.CanAccessResource(subj.Role, resource) {
		return true
	}
	o := r.lookup(ctx, subj)
	return o != nil && len(o.Added[resource]) > 0
}

func (r *Resolver) decideWith(o *Override, role Role, resource Resource, action Action) bool {
	if o != nil {
		if o.Removed.Has(resource, action) {
			return false
		}
		if o.Added.Has(resource, action) {
			return true
		}
	}
	return r.catalog.HasPermission(role, resource, action)
}

// lookup fetches the active override, failing closed: any error is treated
// as no override present.
func (r *Resolver) lookup(ctx context.Context, subj Subject) *Override {
	if subj.BusinessID <= 0 || r.reader == nil {
		return nil
	}
	now := r.now()
	o, err := r.reader.ActiveOverride(ctx, subj.UserID, subj.BusinessID, now)
	if err != nil {
		r.logger.Warn("override lookup failed, using role baseline",
			slog.Int64("user_id", subj.UserID),
			slog.Int64("business_id", subj.BusinessID),
			slog.Any("error", err))
		return nil
	}
	if !o.ActiveAt(now) {
		return nil
	}
	return o
}

func (r *Resolver) observe(resource Resource, action Action, allowed bool) {
	if r.observer != nil {
		r.observer.ObserveDecision(resource, action, allowed)
	}
}
