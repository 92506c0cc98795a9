// Package models defines the persistent entities of the identity service
// and the DTOs returned by the service layer. Cacheable types carry JSON
// tags because the ephemeral cache stores serialized records.
package models

import "time"

// User is the durable identity record. Password is nil for accounts
// created through a social provider.
type User struct {
	ID                     int64      `json:"id"`
	Username               string     `json:"username"`
	Email                  string     `json:"email"`
	Password               *string    `json:"-"`
	DisplayName            *string    `json:"display_name,omitempty"`
	ProfilePicture         *string    `json:"profile_picture,omitempty"`
	IsActive               bool       `json:"is_active"`
	IsVerified             bool       `json:"is_verified"`
	VerificationCode       *string    `json:"-"`
	VerificationCodeExpiry *time.Time `json:"-"`
	GoogleID               *string    `json:"-"`
	AppleID                *string    `json:"-"`
	LastLogin              *time.Time `json:"last_login,omitempty"`
	CreateDate             time.Time  `json:"create_date"`
	UpdateDate             time.Time  `json:"update_date"`
	DoneBy                 string     `json:"done_by"`
}

// PublicUser is the projection safe to return to callers. It never carries
// the password hash or verification fields.
type PublicUser struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	DisplayName    *string    `json:"display_name,omitempty"`
	ProfilePicture *string    `json:"profile_picture,omitempty"`
	IsVerified     bool       `json:"is_verified"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
}

// Public returns the caller-facing projection of u.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		ProfilePicture: u.ProfilePicture,
		IsVerified:     u.IsVerified,
		LastLogin:      u.LastLogin,
	}
}
