package authz

import (
	"slices"

	"github.com/famis-lga/famis-portal/internal/identity"
)

// AllLocations is the pseudo-location offered in location filters.
const AllLocations = "All"

// CanAccessAssetLocation reports whether the user may see assets held at location.
// Users without assigned locations are unrestricted. Matching is exact and case-sensitive.
func CanAccessAssetLocation(u *identity.User, location string) bool {
	if u == nil {
		return false
	}
	if len(u.Locations) == 0 {
		return true
	}
	return slices.Contains(u.Locations, location)
}

// UserLocations returns the user's assigned locations; empty means unrestricted.
func UserLocations(u *identity.User) []string {
	if u == nil {
		return []string{}
	}
	return slices.Clone(u.Locations)
}

// AccessibleLocations narrows the full location list to what the user may filter on.
// Unrestricted users get every location; restricted users get "All" followed by their own.
func AccessibleLocations(u *identity.User, all []string) []string {
	if u == nil {
		return []string{}
	}
	if len(u.Locations) == 0 {
		return slices.Clone(all)
	}
	return append([]string{AllLocations}, u.Locations...)
}

// FilterByLocation keeps the items whose location the user may access.
func FilterByLocation[T any](u *identity.User, items []T, location func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if CanAccessAssetLocation(u, location(item)) {
			out = append(out, item)
		}
	}
	return out
}
