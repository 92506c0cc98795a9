// Package common defines shared constants and sentinel errors used across
// the identity service. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Input validation.
	ErrBadInput = errors.New("missing or malformed field")

	// Credential checks. Unknown identifier and wrong password are
	// deliberately reported identically to prevent user enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMustVerify         = errors.New("account not verified")
	ErrAccountDisabled    = errors.New("account disabled")

	// Rate limiting.
	ErrTooManyAttempts = errors.New("too many attempts")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Verification codes. An expired code and a code that was never
	// issued are indistinguishable and both report as "no code found".
	ErrNoCode      = errors.New("no code found")
	ErrInvalidCode = errors.New("invalid code")

	// Two-phase login state.
	ErrSessionExpired = errors.New("session expired")

	// Refresh token lifecycle. A token that fails signature checks or has
	// no store row is invalid; an expired-but-present row is reported
	// separately so clients can tell "log in again" from tampering.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// External collaborators (email dispatch, OAuth providers).
	ErrExternalFailure = errors.New("external service failure")

	// Unexpected faults.
	ErrInternal = errors.New("internal error")
)
