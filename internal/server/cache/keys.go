package cache

import "time"

// Key prefixes. Every cache entry is namespaced so that a flush of one
// concern never touches another.
const (
	prefixUserID       = "user:id:"
	prefixUserUsername = "user:username:"
	prefixUserEmail    = "user:email:"
	prefixVerification = "verification:"
	prefixEmailChange  = "email_change:"
	prefixLoginOTP     = "login_verification:"
	prefixLoginSession = "login_session:"
	prefixRefreshToken = "refresh_token:"
	prefixRecentEmail  = "recent_email:"
	prefixEmailCount   = "email_count:"
)

// Per-purpose lifetimes. The session ceiling caps refresh-token projections
// so a revoked grant can linger in the cache for at most an hour.
const (
	UserTTL         = 15 * time.Minute
	VerificationTTL = 10 * time.Minute
	LoginOTPTTL     = 5 * time.Minute
	LoginSessionTTL = 5 * time.Minute
	SessionCeiling  = time.Hour
	EmailCooldown   = time.Minute
	EmailCountTTL   = time.Hour
)
