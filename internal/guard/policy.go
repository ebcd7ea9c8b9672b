package guard

import "github.com/odyssey-erp/inventra/internal/authz"

// Policy is one of RoleAllowList, ResourceAction or Combined.
type Policy interface {
	isPolicy()
}

// RoleAllowList admits only the listed roles. It never consults overrides.
type RoleAllowList struct {
	Roles []authz.Role
}

// ResourceAction requires the resolver to allow actions on Resource, either
// all of them or, with RequireAny, at least one.
type ResourceAction struct {
	Resource   authz.Resource
	Actions    []authz.Action
	RequireAny bool
}

// Combined requires both checks. The allow-list runs first and a failure
// there rejects without any override lookup.
type Combined struct {
	AllowList RoleAllowList
	Check     ResourceAction
}

func (RoleAllowList) isPolicy()  {}
func (ResourceAction) isPolicy() {}
func (Combined) isPolicy()       {}

// AllowRoles builds a RoleAllowList.
func AllowRoles(roles ...authz.Role) RoleAllowList {
	return RoleAllowList{Roles: roles}
}

// RequireAll builds a ResourceAction needing every action.
func RequireAll(resource authz.Resource, actions ...authz.Action) ResourceAction {
	return ResourceAction{Resource: resource, Actions: actions}
}

// RequireAny builds a ResourceAction needing at least one action.
func RequireAny(resource authz.Resource, actions ...authz.Action) ResourceAction {
	return ResourceAction{Resource: resource, Actions: actions, RequireAny: true}
}

// Combine builds a Combined policy.
func Combine(allow RoleAllowList, check ResourceAction) Combined {
	return Combined{AllowList: allow, Check: check}
}

func (p RoleAllowList) admits(role authz.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
