package models

import "time"

// TrustedDevice records a (user, fingerprint) grant that lets the user skip
// the login OTP until TrustedUntil. LastUsed is bumped on every trusted hit
// without extending TrustedUntil.
type TrustedDevice struct {
	ID           int64
	UserID       int64
	Fingerprint  string
	DeviceName   string
	TrustedUntil time.Time
	CreateDate   time.Time
	LastUsed     time.Time
}
