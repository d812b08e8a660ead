package types

import "time"

// User represents an account in the system.
// It contains identity, profile, and audit metadata; the role lives in a
// separate record resolved at sign-in.
type User struct {
	// UID is the opaque stable identifier of the user.
	UID string `json:"uid" db:"uid"`

	// Email is the address the user signs in with.
	Email string `json:"email" db:"email"`

	// DisplayName is the name shown next to the user's comments.
	DisplayName string `json:"display_name" db:"display_name"`

	// PhotoURL points to the user's profile picture, if any.
	PhotoURL string `json:"photo_url,omitempty" db:"photo_url"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Session is the resolved identity of an authenticated caller. It is built
// per request and handed explicitly to every service call.
type Session struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// IsAuthor reports whether the session may manage places.
func (s Session) IsAuthor() bool {
	return s.Role == RoleAuthor
}
