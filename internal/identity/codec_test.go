package identity_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famis-lga/famis-portal/internal/identity"
	_ "github.com/famis-lga/famis-portal/testing"
)

func TestDecodeNormalisesPermissionShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "array", raw: `["assets", " auctions ", "assets", ""]`, want: []string{"assets", "auctions"}},
		{name: "json string", raw: `"[\"maintenance\",\"reports\"]"`, want: []string{"maintenance", "reports"}},
		{name: "bare string", raw: `"all"`, want: []string{"all"}},
		{name: "null", raw: `null`, want: []string{}},
		{name: "number", raw: `42`, want: []string{}},
		{name: "mixed array", raw: `["audit", 7, {"x":1}]`, want: []string{"audit"}},
		{name: "broken json string", raw: `"[not json"`, want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user, err := identity.Decode([]byte(`{"id":3,"username":"amina","role":"user","permissions":` + tc.raw + `}`))
			require.NoError(t, err)
			assert.Equal(t, tc.want, user.Permissions)
			assert.NotNil(t, user.Locations)
		})
	}
}

func TestDecodeMergesLocationAliases(t *testing.T) {
	user, err := identity.Decode([]byte(`{"id":9,"username":"bello","role":"asset_manager","asset_access":["HQ","Depot"],"locations":["HQ"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"HQ", "Depot"}, user.Locations)
	assert.Equal(t, identity.RoleAssetManager, user.Role)
	assert.Empty(t, user.Permissions)
}

func TestDecodeRejectsInvalidRecords(t *testing.T) {
	for _, raw := range []string{
		`{"username":"nobody"}`,
		`{"id":4,"username":"   "}`,
		`{"id":`,
		`[]`,
	} {
		_, err := identity.Decode([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, identity.ErrInvalidUser), raw)
	}
}

func TestUnknownRoleKeepsLabel(t *testing.T) {
	user, err := identity.Decode([]byte(`{"id":5,"username":"ops","role":"store_keeper"}`))
	require.NoError(t, err)
	assert.Equal(t, identity.RoleUnknown, user.Role)
	assert.Equal(t, "Store Keeper", user.RoleLabel())
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	in := &identity.User{
		ID:          12,
		Username:    "halima",
		Email:       "halima@gusau.gov.ng",
		FirstName:   "Halima",
		LastName:    "Sani",
		Role:        identity.RoleDisposalManager,
		Permissions: []string{"disposals"},
		Locations:   []string{"HQ"},
	}
	data, err := identity.Encode(in)
	require.NoError(t, err)

	out, err := identity.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Role, out.Role)
	assert.Equal(t, "disposal_manager", out.RoleName)
	assert.Equal(t, in.Permissions, out.Permissions)
	assert.Equal(t, in.Locations, out.Locations)
	assert.Equal(t, "Halima Sani", out.FullName())
	assert.Equal(t, "Disposal Manager", out.RoleLabel())
}

func TestEncodeRejectsNil(t *testing.T) {
	_, err := identity.Encode(nil)
	assert.ErrorIs(t, err, identity.ErrInvalidUser)
}
