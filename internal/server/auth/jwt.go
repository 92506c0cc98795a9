// Package auth mints and verifies the service's HS256 tokens. Access and
// refresh tokens are signed with separate secrets so a leaked access secret
// cannot forge long-lived grants.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yamazhen/soma-server/internal/common"
)

const refreshTokenType = "refresh"

// AccessClaims identifies the caller on every authenticated request.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// RefreshClaims carries the grant id so individual grants can be revoked.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"id"`
	TokenType string `json:"type"`
	TokenID   string `json:"tokenId"`
}

// Issuer mints and verifies token pairs.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewIssuer constructs an Issuer with distinct access and refresh secrets.
func NewIssuer(accessSecret, refreshSecret []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken mints a short-lived access token for the user.
func (i *Issuer) IssueAccessToken(userID int64, username, email string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:   userID,
		Username: username,
		Email:    email,
	})

	signed, err := token.SignedString(i.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken mints a refresh token carrying a fresh grant id and
// returns the token string together with its expiry.
func (i *Issuer) IssueRefreshToken(userID int64) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(i.refreshTTL)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:    userID,
		TokenType: refreshTokenType,
		TokenID:   uuid.NewString(),
	})

	token, err = t.SignedString(i.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseAccessToken verifies the signature and expiry of an access token.
// Any failure maps to common.ErrInvalidCredentials: callers never learn
// whether a bad token was malformed, forged or merely stale.
func (i *Issuer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.accessSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidCredentials
	}
	return claims, nil
}

// ParseRefreshToken verifies a refresh token and distinguishes an expired
// grant (the one recoverable failure) from everything else.
func (i *Issuer) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.refreshSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrRefreshTokenExpired
		}
		return nil, common.ErrInvalidRefreshToken
	}
	if !token.Valid || claims.TokenType != refreshTokenType {
		return nil, common.ErrInvalidRefreshToken
	}
	return claims, nil
}
