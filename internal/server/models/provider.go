package models

// SocialProvider is the closed set of supported external identity
// providers. Code that branches on a provider must switch exhaustively
// over these values; column names are never built from caller input.
type SocialProvider string

const (
	ProviderGoogle SocialProvider = "google"
	ProviderApple  SocialProvider = "apple"
)

// Valid reports whether p is a known provider.
func (p SocialProvider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderApple:
		return true
	}
	return false
}
