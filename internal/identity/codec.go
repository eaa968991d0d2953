package identity

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ErrInvalidUser reports a user record that cannot be trusted as an identity.
var ErrInvalidUser = errors.New("identity: invalid user record")

var validate = validator.New()

// record is the wire shape shared by the backend and the persisted session copy.
type record struct {
	ID          int64    `json:"id" validate:"gt=0"`
	Username    string   `json:"username" validate:"required"`
	Email       string   `json:"email,omitempty"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Role        string   `json:"role"`
	Status      string   `json:"status,omitempty"`
	Department  string   `json:"department,omitempty"`
	Permissions flexList `json:"permissions"`
	AssetAccess flexList `json:"asset_access,omitempty"`
	Locations   flexList `json:"locations,omitempty"`
}

// flexList accepts a JSON array, a JSON-encoded array inside a string, a bare string or null.
// Malformed values decode to an empty list instead of failing the whole record.
type flexList []string

func (l *flexList) UnmarshalJSON(data []byte) error {
	*l = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '[':
		*l = stringsOf(data)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			*l = stringsOf([]byte(s))
			return nil
		}
		*l = flexList{s}
	}
	return nil
}

func stringsOf(data []byte) flexList {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	out := make(flexList, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Decode parses and validates a user record. Permissions and locations are normalised
// once here so callers never need to re-check their shape.
func Decode(data []byte) (*User, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	rec.Username = strings.TrimSpace(rec.Username)
	if err := validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	roleName := strings.TrimSpace(rec.Role)
	return &User{
		ID:          rec.ID,
		Username:    rec.Username,
		Email:       strings.TrimSpace(rec.Email),
		FirstName:   rec.FirstName,
		LastName:    rec.LastName,
		Role:        ParseRole(roleName),
		RoleName:    roleName,
		Status:      rec.Status,
		Department:  rec.Department,
		Permissions: normalize(rec.Permissions),
		Locations:   normalize(append(append(flexList{}, rec.Locations...), rec.AssetAccess...)),
	}, nil
}

// Encode writes the canonical persisted form of a user.
func Encode(u *User) ([]byte, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil user", ErrInvalidUser)
	}
	roleName := u.RoleName
	if roleName == "" {
		roleName = string(u.Role)
	}
	rec := record{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        roleName,
		Status:      u.Status,
		Department:  u.Department,
		Permissions: flexList(normalize(u.Permissions)),
		Locations:   flexList(normalize(u.Locations)),
	}
	if err := validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	return json.Marshal(rec)
}

// normalize trims, drops blanks and de-duplicates while keeping order. Tags are not case-folded.
func normalize(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
