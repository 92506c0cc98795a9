package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/cache"
	"github.com/yamazhen/soma-server/internal/server/models"
	"github.com/yamazhen/soma-server/internal/server/repositories/repomanager"
)

// SocialIdentity is what a provider's ID token resolves to.
type SocialIdentity struct {
	ID      string
	Email   string
	Name    string
	Picture string
}

// TokenVerifier validates a provider-issued ID token. Implementations call
// out to the provider (or verify against its published keys); failures
// report ErrExternalFailure for transport problems and ErrInvalidCredentials
// for tokens that do not check out.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*SocialIdentity, error)
}

// SocialService exchanges provider ID tokens for sessions, creating or
// linking accounts as needed. Social accounts are born verified: the
// provider already owns the mailbox proof.
type SocialService struct {
	db        *sql.DB
	rm        repomanager.RepositoryManager
	cache     *cache.Cache
	login     *LoginService
	verifiers map[models.SocialProvider]TokenVerifier
	log       logging.Logger
}

// NewSocialService wires a SocialService with per-provider verifiers.
func NewSocialService(db *sql.DB, rm repomanager.RepositoryManager, c *cache.Cache,
	login *LoginService, verifiers map[models.SocialProvider]TokenVerifier,
	log logging.Logger) *SocialService {
	return &SocialService{
		db:        db,
		rm:        rm,
		cache:     c,
		login:     login,
		verifiers: verifiers,
		log:       log.With("component", "social"),
	}
}

// GoogleLogin completes a login with a Google ID token.
func (s *SocialService) GoogleLogin(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error) {
	return s.loginWith(ctx, models.ProviderGoogle, idToken, deviceInfo)
}

// AppleLogin completes a login with an Apple identity token.
func (s *SocialService) AppleLogin(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error) {
	return s.loginWith(ctx, models.ProviderApple, idToken, deviceInfo)
}

func (s *SocialService) loginWith(ctx context.Context, provider models.SocialProvider, idToken, deviceInfo string) (*models.AuthResponse, error) {
	if idToken == "" {
		return nil, common.ErrBadInput
	}
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", common.ErrInternal, provider)
	}

	verifier, ok := s.verifiers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no verifier for provider %q", common.ErrInternal, provider)
	}

	identity, err := verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if identity.ID == "" || identity.Email == "" {
		return nil, common.ErrInvalidCredentials
	}

	user, err := s.findOrCreateSocialUser(ctx, provider, identity)
	if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, common.ErrAccountDisabled
	}

	return s.login.Complete(ctx, user, deviceInfo)
}

// findOrCreateSocialUser matches by provider id or email. An email match
// without the provider id links the provider to the existing account; no
// match creates a fresh, already-verified account.
func (s *SocialService) findOrCreateSocialUser(ctx context.Context, provider models.SocialProvider, identity *SocialIdentity) (*models.User, error) {
	email := strings.ToLower(identity.Email)
	repo := s.rm.Users(s.db)

	user, err := repo.FindBySocial(ctx, provider, identity.ID, email)
	if err == nil {
		if !s.hasProviderID(user, provider) {
			if err := repo.LinkSocial(ctx, user.ID, provider, identity.ID); err != nil {
				return nil, err
			}
			s.cache.InvalidateUser(ctx, user.ID, user.Username, user.Email)
			s.log.Info(ctx, "provider linked", "user_id", user.ID, "provider", provider)
		}
		return user, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	username, err := s.deriveUsername(ctx, identity.Name, email)
	if err != nil {
		return nil, err
	}

	var picture *string
	if identity.Picture != "" {
		picture = &identity.Picture
	}
	created, err := repo.CreateSocial(ctx, provider, identity.ID, username, email, picture)
	if err != nil {
		return nil, err
	}

	s.cache.SetUser(ctx, created)
	s.log.Info(ctx, "social account created", "user_id", created.ID, "provider", provider)
	return created, nil
}

func (s *SocialService) hasProviderID(user *models.User, provider models.SocialProvider) bool {
	switch provider {
	case models.ProviderGoogle:
		return user.GoogleID != nil
	case models.ProviderApple:
		return user.AppleID != nil
	default:
		return false
	}
}

// deriveUsername builds a username from the provider-supplied name, falling
// back to the email local part, suffixing random hex until it is free.
func (s *SocialService) deriveUsername(ctx context.Context, name, email string) (string, error) {
	base := strings.ReplaceAll(strings.TrimSpace(name), " ", "")
	if base == "" {
		base, _, _ = strings.Cut(email, "@")
	}
	base = strings.ToLower(base)

	repo := s.rm.Users(s.db)
	candidate := base
	for i := 0; i < 5; i++ {
		_, err := repo.FindByUsername(ctx, candidate)
		if errors.Is(err, common.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		suffix, err := common.MakeRandHexString(4)
		if err != nil {
			return "", err
		}
		candidate = base + "_" + suffix
	}
	return "", fmt.Errorf("%w: could not derive a free username", common.ErrInternal)
}
