package models

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// AuthResponse is returned by every operation that completes a login.
type AuthResponse struct {
	User   *PublicUser `json:"user"`
	Tokens *TokenPair  `json:"tokens"`
}

// LoginResult is the outcome of initiating a login. When the device is not
// trusted, RequiresVerification is set, Email carries only a masked address,
// and no tokens are issued.
type LoginResult struct {
	RequiresVerification bool          `json:"requiresVerification"`
	Email                string        `json:"email,omitempty"`
	Auth                 *AuthResponse `json:"auth,omitempty"`
}

// RefreshResult carries a freshly minted access token.
type RefreshResult struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}
