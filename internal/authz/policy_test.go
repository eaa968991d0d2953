package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famis-lga/famis-portal/internal/authz"
	"github.com/famis-lga/famis-portal/internal/identity"
)

var allCapabilities = []string{
	authz.CapAdmin, authz.CapAssets, authz.CapAuctions, authz.CapMaintenance, authz.CapDisposals,
	authz.CapTransfers, authz.CapAudit, authz.CapUsers, authz.CapReports, authz.CapNotifications,
	"something-new",
}

func user(role identity.Role, perms ...string) *identity.User {
	if perms == nil {
		perms = []string{}
	}
	return &identity.User{ID: 1, Username: "u", Role: role, Permissions: perms, Locations: []string{}}
}

func TestAllPermissionGrantsEverything(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleUser, identity.RoleUnknown, identity.RoleAuctionManager} {
		u := user(role, authz.CapAll)
		for _, c := range allCapabilities {
			assert.True(t, authz.HasPermission(u, c), "%s/%s", role, c)
		}
	}
}

func TestNoPermissionsAndNoRoleGrantsNothing(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleUser, identity.RoleUnknown} {
		u := user(role)
		for _, c := range allCapabilities {
			assert.False(t, authz.HasPermission(u, c), "%s/%s", role, c)
		}
	}
}

func TestRoleAndPermissionListAreOred(t *testing.T) {
	assert.True(t, authz.HasPermission(user(identity.RoleAdmin), authz.CapUsers))
	assert.True(t, authz.HasPermission(user(identity.RoleAuctionManager), authz.CapAuctions))
	assert.True(t, authz.HasPermission(user(identity.RoleUser, authz.CapAudit), authz.CapAudit))
	assert.False(t, authz.HasPermission(user(identity.RoleAuctionManager), authz.CapDisposals))
	assert.True(t, authz.HasPermission(user(identity.RoleAuctionManager, authz.CapDisposals), authz.CapDisposals))
	assert.True(t, authz.HasAny(user(identity.RoleUser, authz.CapReports), authz.CapAudit, authz.CapReports))
	assert.False(t, authz.HasAny(user(identity.RoleUser), authz.CapAudit, authz.CapReports))
}

func TestNilUserIsUnauthorized(t *testing.T) {
	assert.False(t, authz.HasPermission(nil, authz.CapAssets))
	assert.False(t, authz.CanManageAssets(nil))
	assert.False(t, authz.IsMaintenanceManager(nil))
	assert.False(t, authz.CanAccessAssetLocation(nil, "HQ"))
	assert.Equal(t, authz.PathLogin, authz.DefaultLandingPage(nil))
	assert.Nil(t, authz.Navigation(nil))
}

func TestMissingFieldsDoNotPanic(t *testing.T) {
	bare := &identity.User{ID: 1, Username: "bare"}
	assert.False(t, authz.HasPermission(bare, authz.CapAssets))
	assert.True(t, authz.CanAccessAssetLocation(bare, "anywhere"))
	assert.Equal(t, authz.PathDashboard, authz.DefaultLandingPage(bare))
	assert.Empty(t, authz.UserLocations(bare))
}

func TestCanManageAssetsCarveOut(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleAuctionManager, identity.RoleDisposalManager} {
		for _, perms := range [][]string{nil, {authz.CapAssets}, {authz.CapAll}, {authz.CapAssets, authz.CapAll}} {
			assert.False(t, authz.CanManageAssets(user(role, perms...)), "%s %v", role, perms)
		}
	}
	assert.True(t, authz.CanManageAssets(user(identity.RoleAdmin)))
	assert.True(t, authz.CanManageAssets(user(identity.RoleAssetManager)))
	assert.True(t, authz.CanManageAssets(user(identity.RoleUser, authz.CapAssets)))
	assert.True(t, authz.CanManageAssets(user(identity.RoleMaintenanceManager, authz.CapAll)))
	assert.False(t, authz.CanManageAssets(user(identity.RoleMaintenanceManager)))
	assert.False(t, authz.CanManageAssets(user(identity.RoleUser, authz.CapAuctions)))
}

func TestCarveOutIsASinglePolicyToggle(t *testing.T) {
	relaxed := *authz.DefaultPolicy
	relaxed.ViewOnlyRoles = nil
	assert.True(t, relaxed.CanManageAssets(user(identity.RoleAuctionManager, authz.CapAssets)))
	assert.False(t, authz.CanManageAssets(user(identity.RoleAuctionManager, authz.CapAssets)))
}

func TestIsMaintenanceManager(t *testing.T) {
	assert.True(t, authz.IsMaintenanceManager(user(identity.RoleMaintenanceManager)))
	assert.True(t, authz.IsMaintenanceManager(user(identity.RoleAdmin)))
	assert.True(t, authz.IsMaintenanceManager(user(identity.RoleUser, authz.CapMaintenance)))
	assert.True(t, authz.IsMaintenanceManager(user(identity.RoleUser, authz.CapAll)))
	assert.False(t, authz.IsMaintenanceManager(user(identity.RoleAssetManager, authz.CapAssets)))
}

func TestDefaultLandingPagePriority(t *testing.T) {
	cases := []struct {
		name string
		user *identity.User
		want string
	}{
		{"admin role", user(identity.RoleAdmin), authz.PathDashboard},
		{"all permission", user(identity.RoleAuctionManager, authz.CapAll), authz.PathDashboard},
		{"auctions over maintenance", user(identity.RoleUser, authz.CapAuctions, authz.CapMaintenance), authz.PathAuctions},
		{"maintenance over disposals", user(identity.RoleUser, authz.CapDisposals, authz.CapMaintenance), authz.PathMaintenance},
		{"disposals over assets", user(identity.RoleUser, authz.CapAssets, authz.CapDisposals), authz.PathDisposals},
		{"assets", user(identity.RoleUser, authz.CapAssets), authz.PathAssets},
		{"auction role", user(identity.RoleAuctionManager), authz.PathAuctions},
		{"maintenance role", user(identity.RoleMaintenanceManager), authz.PathMaintenance},
		{"disposal role", user(identity.RoleDisposalManager), authz.PathDisposals},
		{"asset role", user(identity.RoleAssetManager), authz.PathAssets},
		{"asset role with auctions tag", user(identity.RoleAssetManager, authz.CapAuctions), authz.PathAuctions},
		{"nothing matches", user(identity.RoleUser, authz.CapReports), authz.PathDashboard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, authz.DefaultLandingPage(tc.user))
		})
	}
}

func TestLocationScoping(t *testing.T) {
	open := user(identity.RoleAssetManager)
	for _, loc := range []string{"HQ", "hq", "", "Depot"} {
		assert.True(t, authz.CanAccessAssetLocation(open, loc))
	}

	scoped := user(identity.RoleAssetManager)
	scoped.Locations = []string{"HQ", "Depot"}
	assert.True(t, authz.CanAccessAssetLocation(scoped, "HQ"))
	assert.False(t, authz.CanAccessAssetLocation(scoped, "hq"))
	assert.False(t, authz.CanAccessAssetLocation(scoped, "Market"))

	all := []string{"HQ", "Depot", "Market"}
	assert.Equal(t, all, authz.AccessibleLocations(open, all))
	assert.Equal(t, []string{authz.AllLocations, "HQ", "Depot"}, authz.AccessibleLocations(scoped, all))

	type asset struct{ tag, location string }
	assets := []asset{{"A-1", "HQ"}, {"A-2", "Market"}, {"A-3", "Depot"}}
	visible := authz.FilterByLocation(scoped, assets, func(a asset) string { return a.location })
	require.Len(t, visible, 2)
	assert.Equal(t, "A-1", visible[0].tag)
	assert.Equal(t, "A-3", visible[1].tag)
}

func TestNavigationFiltersByPermission(t *testing.T) {
	groups := authz.Navigation(user(identity.RoleAuctionManager))
	var texts []string
	for _, g := range groups {
		for _, item := range g.Items {
			texts = append(texts, item.Text)
		}
	}
	assert.Equal(t, []string{"Dashboard", "Assets", "Auctions"}, texts)

	admin := authz.Navigation(user(identity.RoleAdmin))
	require.Len(t, admin, 5)
	assert.Equal(t, "Reports & Audit", admin[3].Name)
}
