package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the full account record, credentials included. It never leaves
// the service layer; callers outside it get a Profile.
type User struct {
	ID               string
	Email            string
	Name             string
	Phone            *string
	PasswordHash     string
	RefreshTokenHash *string
	Role             UserRole
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasSession reports whether a refresh token is currently on file.
func (u *User) HasSession() bool {
	return u.RefreshTokenHash != nil && *u.RefreshTokenHash != ""
}

// Profile is the credential-free view of a user.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) Profile() *Profile {
	p := &Profile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.Phone != nil {
		phone := *u.Phone
		p.Phone = &phone
	}
	return p
}

// ProfileUpdate carries the user-editable fields; nil means unchanged.
type ProfileUpdate struct {
	Name  *string
	Phone *string
}

func (p ProfileUpdate) Empty() bool {
	return p.Name == nil && p.Phone == nil
}
