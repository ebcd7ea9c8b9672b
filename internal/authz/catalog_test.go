package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogMatchesTable(t *testing.T) {
	table := DefaultTable()
	catalog := MustCatalog(table)
	for _, role := range Roles() {
		for _, res := range Resources() {
			for _, action := range Actions() {
				_, granted := table[role][res][action]
				require.Equal(t, granted, catalog.HasPermission(role, res, action), "%s %s:%s", role, res, action)
			}
		}
	}
}

func TestCatalogUnknownTagsFailClosed(t *testing.T) {
	catalog := DefaultCatalog()
	require.False(t, catalog.HasPermission("owner", ResourceSales, ActionRead))
	require.False(t, catalog.HasPermission(RoleAdmin, "spaceships", ActionRead))
	require.False(t, catalog.HasPermission(RoleAdmin, ResourceSales, "teleport"))
	require.False(t, catalog.CanAccessResource("owner", ResourceSales))
	require.Empty(t, catalog.Permissions("owner"))

	var nilCatalog *RoleCatalog
	require.False(t, nilCatalog.HasPermission(RoleAdmin, ResourceSales, ActionRead))
}

func TestCatalogHasAnyAndAccess(t *testing.T) {
	catalog := DefaultCatalog()
	require.True(t, catalog.HasAnyPermission(RoleClerk, ResourceSales, ActionDelete, ActionRead))
	require.False(t, catalog.HasAnyPermission(RoleClerk, ResourceSales, ActionDelete, ActionExport))
	require.False(t, catalog.HasAnyPermission(RoleClerk, ResourceSales))
	require.True(t, catalog.CanAccessResource(RoleClerk, ResourceSales))
	require.False(t, catalog.CanAccessResource(RoleClerk, ResourceUsers))
}

func TestNewCatalogRejectsUnknownTags(t *testing.T) {
	_, err := NewCatalog(RoleTable{"owner": PermissionMap{}})
	require.Error(t, err)

	_, err = NewCatalog(RoleTable{RoleClerk: PermissionMap{ResourceSales: NewActionSet("teleport")}})
	require.Error(t, err)
}

func TestCatalogIsIsolatedFromCallerMutation(t *testing.T) {
	table := RoleTable{RoleClerk: PermissionMap{ResourceSales: NewActionSet(ActionRead)}}
	catalog := MustCatalog(table)

	table[RoleClerk].Add(ResourceSales, ActionDelete)
	require.False(t, catalog.HasPermission(RoleClerk, ResourceSales, ActionDelete))

	perms := catalog.Permissions(RoleClerk)
	perms.Add(ResourceSales, ActionExport)
	require.False(t, catalog.HasPermission(RoleClerk, ResourceSales, ActionExport))
}

func TestParsePermissionMapFoldsAndReportsUnknown(t *testing.T) {
	perms, err := ParsePermissionMap(map[string][]string{" Sales ": {"EXPORT", "read"}})
	require.NoError(t, err)
	require.True(t, perms.Has(ResourceSales, ActionExport))
	require.True(t, perms.Has(ResourceSales, ActionRead))

	_, err = ParsePermissionMap(map[string][]string{"sales": {"teleport"}, "ufo": {"read"}})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "sales:teleport")
	require.Contains(t, err.Error(), "resource ufo")
}
