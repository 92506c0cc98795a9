package models

import "time"

// RefreshToken is a durable grant allowing its holder to mint new access
// tokens. A user may hold many concurrent rows (one per device).
type RefreshToken struct {
	ID         int64
	UserID     int64
	Token      string
	ExpiresAt  time.Time
	DeviceInfo string
	CreateDate time.Time
}

// CachedRefreshToken is the denormalized cache projection keyed by the token
// string. It avoids a store join on every access-token refresh and is never
// authoritative: absence means "fall back to the store", not "invalid".
type CachedRefreshToken struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"expires_at"`
	DeviceInfo string    `json:"device_info,omitempty"`
}
