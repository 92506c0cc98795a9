package models

// LoginSession bridges the "OTP sent" and "OTP verified" steps of the
// two-phase login. It lives only in the ephemeral cache with the same TTL
// as the login OTP; a cache flush mid-flow legitimately forces the user to
// restart the login.
type LoginSession struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"user_agent"`
}

// PendingEmailChange is the cached record for an email-change verification:
// the code is bound to the address it was issued for.
type PendingEmailChange struct {
	Code     string `json:"code"`
	NewEmail string `json:"new_email"`
}
