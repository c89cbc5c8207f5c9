package domain

import (
	"time"
)

// Role determines which surfaces an identity may reach. Immutable after
// creation.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleBroadcaster Role = "broadcaster"
)

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleBroadcaster
}

// User represents an identity: a viewer or a broadcaster.
type User struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Credits   int64     `json:"credits"`
	IsOnline  bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicProfile is the subset of a user embedded in joined reads
// (stream listings, chat history).
type PublicProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

// ToPublic converts a User to its public projection.
func (u *User) ToPublic() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Bio:       u.Bio,
	}
}

// SignUpRequest represents a registration request.
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username" binding:"required"`
	Role     Role   `json:"role" binding:"required"`
}

// SignInRequest represents a login request.
type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest represents a profile update. Nil fields are left
// untouched. Balance and role are not updatable through this path.
type UpdateProfileRequest struct {
	AvatarURL *string `json:"avatar_url"`
	Bio       *string `json:"bio"`
}
