package authz

import (
	"fmt"
	"strings"
)

// RoleTable maps each role to its baseline grants.
type RoleTable map[Role]PermissionMap

// RoleCatalog is the immutable baseline of role grants. Build it once at
// startup and pass it to the resolver; it is safe for concurrent use.
type RoleCatalog struct {
	table RoleTable
}

// NewCatalog validates the table against the vocabulary and takes a deep copy
// so later mutation of the argument cannot leak in.
func NewCatalog(table RoleTable) (*RoleCatalog, error) {
	copied := make(RoleTable, len(table))
	for role, perms := range table {
		if !role.Valid() {
			return nil, fmt.Errorf("authz: catalog: unknown role %q", role)
		}
		if bad := perms.validateVocabulary(); len(bad) > 0 {
			return nil, fmt.Errorf("authz: catalog: role %s: unknown %s", role, strings.Join(bad, ", "))
		}
		copied[role] = perms.Clone()
	}
	return &RoleCatalog{table: copied}, nil
}

// MustCatalog is NewCatalog that panics on an invalid table.
func MustCatalog(table RoleTable) *RoleCatalog {
	c, err := NewCatalog(table)
	if err != nil {
		panic(err)
	}
	return c
}

// HasPermission reports whether role is granted action on resource.
// Unknown tags, and a nil catalog, are always false.
func (c *RoleCatalog) HasPermission(role Role, resource Resource, action Action) bool {
	if c == nil {
		return false
	}
	return c.table[role].Has(resource, action)
}

// HasAnyPermission reports whether role is granted at least one of actions.
func (c *RoleCatalog) HasAnyPermission(role Role, resource Resource, actions ...Action) bool {
	for _, a := range actions {
		if c.HasPermission(role, resource, a) {
			return true
		}
	}
	return false
}

// CanAccessResource reports whether role is granted any action on resource.
func (c *RoleCatalog) CanAccessResource(role Role, resource Resource) bool {
	if c == nil {
		return false
	}
	return len(c.table[role][resource]) > 0
}

// Permissions returns a deep copy of the role baseline; unknown roles yield an
// empty map.
func (c *RoleCatalog) Permissions(role Role) PermissionMap {
	if c == nil {
		return PermissionMap{}
	}
	return c.table[role].Clone()
}

// Roles lists the roles present in the catalog in vocabulary order.
func (c *RoleCatalog) Roles() []Role {
	if c == nil {
		return nil
	}
	out := make([]Role, 0, len(c.table))
	for _, r := range knownRoles {
		if _, ok := c.table[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

func all(resource Resource) PermissionMap {
	return PermissionMap{resource: NewActionSet(knownActions...)}
}

func merge(maps ...PermissionMap) PermissionMap {
	out := PermissionMap{}
	for _, m := range maps {
		out.Union(m)
	}
	return out
}

// DefaultTable is the shipped baseline for Inventra.
func DefaultTable() RoleTable {
	crud := []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList}

	admin := PermissionMap{}
	for _, res := range knownResources {
		admin.Union(all(res))
	}

	manager := PermissionMap{
		ResourceProducts:         NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionDelete),
		ResourceCategories:       NewActionSet(crud...),
		ResourceStock:            NewActionSet(ActionRead, ActionList, ActionAdjust, ActionExport),
		ResourceStockTransfers:   NewActionSet(ActionCreate, ActionRead, ActionList, ActionApprove, ActionCancel, ActionReceive),
		ResourceWarehouses:       NewActionSet(ActionRead, ActionList, ActionUpdate),
		ResourceSuppliers:        NewActionSet(crud...),
		ResourceCustomers:        NewActionSet(crud...),
		ResourceSales:            NewActionSet(ActionCreate, ActionRead, ActionList, ActionUpdate, ActionCancel, ActionRefund, ActionApprove, ActionExport, ActionPrint),
		ResourcePurchases:        NewActionSet(ActionCreate, ActionRead, ActionList, ActionUpdate, ActionApprove, ActionCancel, ActionReceive),
		ResourceExpenses:         NewActionSet(ActionCreate, ActionRead, ActionList, ActionApprove),
		ResourceReports:          NewActionSet(ActionRead, ActionList, ActionExport, ActionPrint),
		ResourceUsers:            NewActionSet(ActionRead, ActionList),
		ResourcePermissions:      NewActionSet(ActionRead, ActionUpdate),
		ResourceBusinessSettings: NewActionSet(ActionRead),
	}

	accountant := PermissionMap{
		ResourceProducts:  NewActionSet(ActionRead, ActionList),
		ResourceStock:     NewActionSet(ActionRead, ActionList, ActionExport),
		ResourceSales:     NewActionSet(ActionRead, ActionList, ActionExport, ActionValidate, ActionPrint),
		ResourcePurchases: NewActionSet(ActionRead, ActionList, ActionExport, ActionValidate),
		ResourceExpenses:  NewActionSet(ActionCreate, ActionRead, ActionList, ActionUpdate, ActionValidate, ActionExport),
		ResourceReports:   NewActionSet(ActionRead, ActionList, ActionExport, ActionPrint),
		ResourceCustomers: NewActionSet(ActionRead, ActionList),
		ResourceSuppliers: NewActionSet(ActionRead, ActionList),
	}

	clerk := merge(
		PermissionMap{ResourceSales: NewActionSet(ActionCreate, ActionRead)},
		PermissionMap{ResourceProducts: NewActionSet(ActionRead, ActionList)},
		PermissionMap{ResourceCustomers: NewActionSet(ActionCreate, ActionRead, ActionList)},
		PermissionMap{ResourceStock: NewActionSet(ActionRead)},
	)

	return RoleTable{
		RoleAdmin:      admin,
		RoleManager:    manager,
		RoleAccountant: accountant,
		RoleClerk:      clerk,
	}
}

// DefaultCatalog builds the catalog from DefaultTable.
func DefaultCatalog() *RoleCatalog {
	return MustCatalog(DefaultTable())
}
