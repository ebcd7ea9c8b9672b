package authz

import "context"

// BuildEffectivePermissions materializes the resolved permission map for the
// subject. For every pair, membership equals Decide.
func (r *Resolver) BuildEffectivePermissions(ctx context.Context, subj Subject) PermissionMap {
	if !subj.identified() {
		return PermissionMap{}
	}
	effective := r.catalog.Permissions(subj.Role)
	if o := r.lookup(ctx, subj); o != nil {
		effective.Union(o.Added)
		effective.Subtract(o.Removed)
	}
	return effective
}
