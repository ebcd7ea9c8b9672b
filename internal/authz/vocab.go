package authz

import (
	"strings"

	"golang.org/x/text/cases"
)

// Role names a bundle of baseline permissions assigned to a user.
type Role string

// Resource names a protected domain object.
type Resource string

// Action names an operation performable on a resource.
type Action string

// Roles.
const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAccountant Role = "accountant"
	RoleClerk      Role = "clerk"
)

// Resources.
const (
	ResourceProducts         Resource = "products"
	ResourceCategories       Resource = "categories"
	ResourceStock            Resource = "stock"
	ResourceStockTransfers   Resource = "stock_transfers"
	ResourceWarehouses       Resource = "warehouses"
	ResourceSuppliers        Resource = "suppliers"
	ResourceCustomers        Resource = "customers"
	ResourceSales            Resource = "sales"
	ResourcePurchases        Resource = "purchases"
	ResourceExpenses         Resource = "expenses"
	ResourceReports          Resource = "reports"
	ResourceUsers            Resource = "users"
	ResourcePermissions      Resource = "permissions"
	ResourceBusinessSettings Resource = "business_settings"
)

// Actions.
const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionList     Action = "list"
	ActionExport   Action = "export"
	ActionImport   Action = "import"
	ActionApprove  Action = "approve"
	ActionCancel   Action = "cancel"
	ActionValidate Action = "validate"

	// Domain-specific variants.
	ActionAdjust  Action = "adjust"
	ActionReceive Action = "receive"
	ActionRefund  Action = "refund"
	ActionPrint   Action = "print"
)

// VocabularyVersion is bumped whenever tags are added. Tags are never removed.
const VocabularyVersion = 1

var (
	knownRoles = []Role{RoleAdmin, RoleManager, RoleAccountant, RoleClerk}

	knownResources = []Resource{
		ResourceProducts, ResourceCategories, ResourceStock, ResourceStockTransfers,
		ResourceWarehouses, ResourceSuppliers, ResourceCustomers, ResourceSales,
		ResourcePurchases, ResourceExpenses, ResourceReports, ResourceUsers,
		ResourcePermissions, ResourceBusinessSettings,
	}

	knownActions = []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList,
		ActionExport, ActionImport, ActionApprove, ActionCancel, ActionValidate,
		ActionAdjust, ActionReceive, ActionRefund, ActionPrint,
	}

	roleIndex     = indexOf(knownRoles)
	resourceIndex = indexOf(knownResources)
	actionIndex   = indexOf(knownActions)

	folder = cases.Fold()
)

func indexOf[T ~string](values []T) map[T]struct{} {
	idx := make(map[T]struct{}, len(values))
	for _, v := range values {
		idx[v] = struct{}{}
	}
	return idx
}

func fold(raw string) string {
	return folder.String(strings.TrimSpace(raw))
}

// Roles returns every known role in declaration order.
func Roles() []Role { return append([]Role(nil), knownRoles...) }

// Resources returns every known resource in declaration order.
func Resources() []Resource { return append([]Resource(nil), knownResources...) }

// Actions returns every known action in declaration order.
func Actions() []Action { return append([]Action(nil), knownActions...) }

// Valid reports whether the role is part of the vocabulary.
func (r Role) Valid() bool {
	_, ok := roleIndex[r]
	return ok
}

// Valid reports whether the resource is part of the vocabulary.
func (r Resource) Valid() bool {
	_, ok := resourceIndex[r]
	return ok
}

// Valid reports whether the action is part of the vocabulary.
func (a Action) Valid() bool {
	_, ok := actionIndex[a]
	return ok
}

// ParseRole folds raw input onto a known role.
func ParseRole(raw string) (Role, bool) {
	r := Role(fold(raw))
	return r, r.Valid()
}

// ParseResource folds raw input onto a known resource.
func ParseResource(raw string) (Resource, bool) {
	r := Resource(fold(raw))
	return r, r.Valid()
}

// ParseAction folds raw input onto a known action.
func ParseAction(raw string) (Action, bool) {
	a := Action(fold(raw))
	return a, a.Valid()
}
