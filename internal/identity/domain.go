package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the coarse job-function label attached to a user account.
type Role string

// Known roles. Anything else decodes to RoleUnknown.
const (
	RoleAdmin              Role = "admin"
	RoleAssetManager       Role = "asset_manager"
	RoleAuctionManager     Role = "auction_manager"
	RoleMaintenanceManager Role = "maintenance_manager"
	RoleDisposalManager    Role = "disposal_manager"
	RoleUser               Role = "user"
	RoleUnknown            Role = "unknown"
)

var knownRoles = map[string]Role{
	string(RoleAdmin):              RoleAdmin,
	string(RoleAssetManager):       RoleAssetManager,
	string(RoleAuctionManager):     RoleAuctionManager,
	string(RoleMaintenanceManager): RoleMaintenanceManager,
	string(RoleDisposalManager):    RoleDisposalManager,
	string(RoleUser):               RoleUser,
}

// ParseRole maps a backend role label onto the enumeration. It never fails.
func ParseRole(raw string) Role {
	if role, ok := knownRoles[strings.TrimSpace(raw)]; ok {
		return role
	}
	return RoleUnknown
}

// DisplayName renders the role for humans, e.g. "Auction Manager".
func (r Role) DisplayName() string {
	return displayName(string(r))
}

func displayName(label string) string {
	label = strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
	if label == "" {
		return ""
	}
	return cases.Title(language.English).String(label)
}

// User is the authenticated principal as returned by the backend "current user" endpoint.
type User struct {
	ID         int64
	Username   string
	Email      string
	FirstName  string
	LastName   string
	Role       Role
	RoleName   string
	Status     string
	Department string
	// Permissions holds capability tags; never nil after Decode.
	Permissions []string
	// Locations holds the sites the user is scoped to; empty means unrestricted.
	Locations []string
}

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// RoleLabel returns the display label, keeping unknown backend roles readable.
func (u *User) RoleLabel() string {
	if u == nil {
		return ""
	}
	if u.Role == RoleUnknown && u.RoleName != "" {
		return displayName(u.RoleName)
	}
	return u.Role.DisplayName()
}
