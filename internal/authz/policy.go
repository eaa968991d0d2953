// Package authz evaluates what an authenticated FAMIS user may see and do.
//
// Every function here is pure: it takes the current user and answers yes or no without
// touching the network or the session. A nil user is always unauthorized.
package authz

import (
	"slices"

	"github.com/famis-lga/famis-portal/internal/identity"
)

// Capability tags understood by the portal.
const (
	CapAll           = "all"
	CapAdmin         = "admin"
	CapAssets        = "assets"
	CapAuctions      = "auctions"
	CapMaintenance   = "maintenance"
	CapDisposals     = "disposals"
	CapTransfers     = "transfers"
	CapAudit         = "audit"
	CapUsers         = "users"
	CapReports       = "reports"
	CapNotifications = "notifications"
)

// Landing and login paths.
const (
	PathLogin         = "/auth/login"
	PathDashboard     = "/dashboard"
	PathAssets        = "/assets"
	PathAuctions      = "/auctions"
	PathMaintenance   = "/maintenance"
	PathDisposals     = "/disposals"
	PathTransfers     = "/transfers"
	PathReports       = "/reports"
	PathAudit         = "/audit"
	PathUsers         = "/users"
	PathNotifications = "/notifications"
)

// Policy centralises every role allow-list used by the evaluator.
type Policy struct {
	// RoleCapabilities grants capabilities to roles for accounts that predate permission lists.
	// A role holding CapAll is granted everything.
	RoleCapabilities map[identity.Role][]string
	// AssetManagerRoles may manage assets without holding the assets tag.
	AssetManagerRoles []identity.Role
	// ViewOnlyRoles can never manage assets, whatever their permission list says.
	ViewOnlyRoles []identity.Role
	// MaintenanceRoles count as maintenance managers.
	MaintenanceRoles []identity.Role
	// Landing is evaluated in order; the first matching rule wins.
	Landing []LandingRule
	// FallbackLanding is used when no landing rule matches.
	FallbackLanding string
}

// LandingRule sends a user holding Role or Capability to Path.
type LandingRule struct {
	Role       identity.Role
	Capability string
	Path       string
}

// DefaultPolicy is the policy used by the package-level helpers.
var DefaultPolicy = &Policy{
	RoleCapabilities: map[identity.Role][]string{
		identity.RoleAdmin:              {CapAll},
		identity.RoleAssetManager:       {CapAssets, CapTransfers, CapReports},
		identity.RoleAuctionManager:     {CapAuctions, CapAssets},
		identity.RoleDisposalManager:    {CapDisposals, CapAssets},
		identity.RoleMaintenanceManager: {CapMaintenance, CapAssets},
	},
	AssetManagerRoles: []identity.Role{identity.RoleAdmin, identity.RoleAssetManager},
	ViewOnlyRoles:     []identity.Role{identity.RoleAuctionManager, identity.RoleDisposalManager},
	MaintenanceRoles:  []identity.Role{identity.RoleAdmin, identity.RoleMaintenanceManager},
	Landing: []LandingRule{
		{Role: identity.RoleAdmin, Capability: CapAll, Path: PathDashboard},
		{Role: identity.RoleAuctionManager, Capability: CapAuctions, Path: PathAuctions},
		{Role: identity.RoleMaintenanceManager, Capability: CapMaintenance, Path: PathMaintenance},
		{Role: identity.RoleDisposalManager, Capability: CapDisposals, Path: PathDisposals},
		{Role: identity.RoleAssetManager, Capability: CapAssets, Path: PathAssets},
	},
	FallbackLanding: PathDashboard,
}

// HasPermission reports whether the user holds capability through the permission list,
// the "all" tag, or the role allow-list. Either source grants access.
func (p *Policy) HasPermission(u *identity.User, capability string) bool {
	if u == nil || capability == "" {
		return false
	}
	if holds(u.Permissions, capability) {
		return true
	}
	granted := p.RoleCapabilities[u.Role]
	return slices.Contains(granted, CapAll) || slices.Contains(granted, capability)
}

// CanManageAssets reports whether the user may create, edit or delete assets.
func (p *Policy) CanManageAssets(u *identity.User) bool {
	if u == nil {
		return false
	}
	// Auction and disposal managers only view assets.
	if slices.Contains(p.ViewOnlyRoles, u.Role) {
		return false
	}
	return slices.Contains(p.AssetManagerRoles, u.Role) || holds(u.Permissions, CapAssets)
}

// IsMaintenanceManager reports whether the user runs the maintenance workflow.
func (p *Policy) IsMaintenanceManager(u *identity.User) bool {
	if u == nil {
		return false
	}
	return slices.Contains(p.MaintenanceRoles, u.Role) || holds(u.Permissions, CapMaintenance)
}

// DefaultLandingPage resolves where a freshly authenticated user is sent.
func (p *Policy) DefaultLandingPage(u *identity.User) string {
	if u == nil {
		return PathLogin
	}
	for _, rule := range p.Landing {
		if u.Role == rule.Role || slices.Contains(u.Permissions, rule.Capability) {
			return rule.Path
		}
	}
	return p.FallbackLanding
}

// holds checks the permission list, honouring the "all" sentinel.
func holds(perms []string, capability string) bool {
	return slices.Contains(perms, CapAll) || slices.Contains(perms, capability)
}

// HasPermission evaluates DefaultPolicy.
func HasPermission(u *identity.User, capability string) bool {
	return DefaultPolicy.HasPermission(u, capability)
}

// HasAny reports whether any of the capabilities is granted under DefaultPolicy.
func HasAny(u *identity.User, capabilities ...string) bool {
	for _, c := range capabilities {
		if DefaultPolicy.HasPermission(u, c) {
			return true
		}
	}
	return false
}

// CanManageAssets evaluates DefaultPolicy.
func CanManageAssets(u *identity.User) bool {
	return DefaultPolicy.CanManageAssets(u)
}

// IsMaintenanceManager evaluates DefaultPolicy.
func IsMaintenanceManager(u *identity.User) bool {
	return DefaultPolicy.IsMaintenanceManager(u)
}

// DefaultLandingPage evaluates DefaultPolicy.
func DefaultLandingPage(u *identity.User) string {
	return DefaultPolicy.DefaultLandingPage(u)
}
