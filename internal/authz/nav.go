package authz

import "github.com/famis-lga/famis-portal/internal/identity"

// NavItem is a single entry of the main navigation.
type NavItem struct {
	Text       string
	Href       string
	Capability string
}

// NavGroup is a titled set of navigation entries. Top-level entries use an empty Name.
type NavGroup struct {
	Name  string
	Items []NavItem
}

var navigation = []NavGroup{
	{Items: []NavItem{{Text: "Dashboard", Href: PathDashboard}}},
	{Name: "Asset Management", Items: []NavItem{
		{Text: "Assets", Href: PathAssets, Capability: CapAssets},
		{Text: "Maintenance", Href: PathMaintenance, Capability: CapMaintenance},
		{Text: "Transfers", Href: PathTransfers, Capability: CapTransfers},
	}},
	{Name: "Operations", Items: []NavItem{
		{Text: "Auctions", Href: PathAuctions, Capability: CapAuctions},
		{Text: "Disposals", Href: PathDisposals, Capability: CapDisposals},
	}},
	{Name: "Reports & Audit", Items: []NavItem{
		{Text: "Reports", Href: PathReports, Capability: CapReports},
		{Text: "Audit Trail", Href: PathAudit, Capability: CapAudit},
	}},
	{Items: []NavItem{
		{Text: "Users", Href: PathUsers, Capability: CapUsers},
		{Text: "Notifications", Href: PathNotifications, Capability: CapNotifications},
	}},
}

// Navigation returns the menu filtered for u. Groups left without items are dropped.
func (p *Policy) Navigation(u *identity.User) []NavGroup {
	if u == nil {
		return nil
	}
	groups := make([]NavGroup, 0, len(navigation))
	for _, group := range navigation {
		visible := make([]NavItem, 0, len(group.Items))
		for _, item := range group.Items {
			if item.Capability == "" || p.HasPermission(u, item.Capability) {
				visible = append(visible, item)
			}
		}
		if len(visible) > 0 {
			groups = append(groups, NavGroup{Name: group.Name, Items: visible})
		}
	}
	return groups
}

// Navigation evaluates DefaultPolicy.
func Navigation(u *identity.User) []NavGroup {
	return DefaultPolicy.Navigation(u)
}
