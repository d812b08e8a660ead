package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a role label does not map to any known role.
var ErrUnknownRole = errors.New("unknown role")

// Role is the closed set of account roles.
type Role int

// Supported roles.
const (
	// RoleNone is the zero value and never a valid stored role.
	RoleNone Role = iota

	// RoleAuthor may register and manage up to the configured number of places.
	RoleAuthor

	// RoleConsumer may browse active places and comment on them.
	RoleConsumer
)

// roleLabels maps every label ever stored by older clients to its canonical role.
var roleLabels = map[string]Role{
	"author":      RoleAuthor,
	"emprendedor": RoleAuthor,
	"consumer":    RoleConsumer,
	"cliente":     RoleConsumer,
	"usuario":     RoleConsumer,
}

// ParseRole maps a canonical or legacy label to a Role. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseRole(label string) (Role, error) {
	role, ok := roleLabels[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, label)
	}
	return role, nil
}

// String returns the canonical label stored in the database and used in API responses.
func (r Role) String() string {
	switch r {
	case RoleAuthor:
		return "author"
	case RoleConsumer:
		return "consumer"
	default:
		return ""
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAuthor || r == RoleConsumer
}

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = RoleNone
		return nil
	}
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseRole(label)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
