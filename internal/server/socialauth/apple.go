package socialauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/server/services"
)

const (
	appleKeysURL    = "https://appleid.apple.com/auth/keys"
	appleIssuer     = "https://appleid.apple.com"
	appleKeysMaxAge = time.Hour
)

// AppleVerifier validates Apple identity tokens locally against Apple's
// published signing keys. The key set is cached and refetched when a token
// references an unknown kid or the cache goes stale.
type AppleVerifier struct {
	clientID string
	keysURL  string
	issuer   string
	client   *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewAppleVerifier(clientID string) *AppleVerifier {
	return &AppleVerifier{
		clientID: clientID,
		keysURL:  appleKeysURL,
		issuer:   appleIssuer,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type appleClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

func (v *AppleVerifier) Verify(ctx context.Context, idToken string) (*services.SocialIdentity, error) {
	claims := &appleClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.keyFor(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
	)
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidCredentials
	}

	return &services.SocialIdentity{
		ID:    claims.Subject,
		Email: claims.Email,
	}, nil
}

func (v *AppleVerifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < appleKeysMaxAge {
		return key, nil
	}

	if err := v.refetchLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

func (v *AppleVerifier) refetchLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: apple keys: %v", common.ErrExternalFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: apple keys: status %d", common.ErrExternalFailure, resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode apple keys: %v", common.ErrExternalFailure, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := parseRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = key
	}

	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
