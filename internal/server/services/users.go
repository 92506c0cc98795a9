// Package services implements the identity service's business operations
// over the repositories, the cache and the notification sender. All write
// paths are store-first: the relational store commits before the cache is
// touched, so a cache failure can never invent state.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/cache"
	"github.com/yamazhen/soma-server/internal/server/models"
	"github.com/yamazhen/soma-server/internal/server/notify"
	"github.com/yamazhen/soma-server/internal/server/rate"
	"github.com/yamazhen/soma-server/internal/server/repositories/repomanager"
)

const (
	bcryptCost        = 10
	minPasswordLength = 8

	// hourly ceiling on verification mail per address
	maxEmailsPerWindow = 3
)

// SessionIssuer completes a login for an already-authenticated user. It is
// satisfied by LoginService and lets verification auto-login without the
// two services referencing each other.
type SessionIssuer interface {
	Complete(ctx context.Context, user *models.User, deviceInfo string) (*models.AuthResponse, error)
}

// UserService owns registration, verification and profile operations.
type UserService struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	cache    *cache.Cache
	limiter  *rate.Limiter
	sender   notify.Sender
	sessions SessionIssuer
	log      logging.Logger
}

// NewUserService wires a UserService. The session issuer is set afterwards
// via SetSessionIssuer because LoginService is constructed later.
func NewUserService(db *sql.DB, rm repomanager.RepositoryManager, c *cache.Cache,
	limiter *rate.Limiter, sender notify.Sender, log logging.Logger) *UserService {
	return &UserService{
		db:      db,
		rm:      rm,
		cache:   c,
		limiter: limiter,
		sender:  sender,
		log:     log.With("component", "users"),
	}
}

// SetSessionIssuer injects the login completer used for auto-login after
// email verification.
func (s *UserService) SetSessionIssuer(issuer SessionIssuer) {
	s.sessions = issuer
}

// Register creates an unverified account, stores a 6-digit verification
// code and mails it to the address. The account exists even if the mail
// fails; the caller can resend.
func (s *UserService) Register(ctx context.Context, username, email, password, displayName string) (*models.PublicUser, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return nil, common.ErrBadInput
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password too short", common.ErrBadInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := common.NumericCode(100000, 999999)
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	hashed := string(hash)
	expiry := time.Now().Add(cache.VerificationTTL)
	user := &models.User{
		Username:               username,
		Email:                  email,
		Password:               &hashed,
		VerificationCode:       &code,
		VerificationCodeExpiry: &expiry,
		DoneBy:                 username,
	}
	if displayName != "" {
		user.DisplayName = &displayName
	}

	created, err := s.rm.Users(s.db).Create(ctx, user)
	if err != nil {
		return nil, err
	}

	s.cache.SetVerificationCode(ctx, email, code)
	s.cache.SetUser(ctx, created)

	if err := s.sendVerification(ctx, created, code); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user registered", "user_id", created.ID, "username", created.Username)
	return created.Public(), nil
}

// ResendVerification issues a fresh code for an unverified account,
// honoring the per-address cooldown and hourly send cap.
func (s *UserService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return common.ErrBadInput
	}

	user, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return fmt.Errorf("%w: already verified", common.ErrConflict)
	}

	if s.cache.RecentlyEmailed(ctx, email) {
		return common.ErrTooManyAttempts
	}
	if s.cache.EmailCount(ctx, email) >= maxEmailsPerWindow {
		return common.ErrTooManyAttempts
	}

	code, err := common.NumericCode(100000, 999999)
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	expiry := time.Now().Add(cache.VerificationTTL)
	if err := s.rm.Users(s.db).SetVerificationCode(ctx, user.ID, code, expiry); err != nil {
		return err
	}
	s.cache.SetVerificationCode(ctx, email, code)
	s.cache.InvalidateUser(ctx, user.ID, user.Username, user.Email)

	return s.sendVerification(ctx, user, code)
}

func (s *UserService) sendVerification(ctx context.Context, user *models.User, code string) error {
	msg := notify.VerificationEmail(user.Email, user.Username, code)
	if err := s.sender.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "verification mail failed", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrExternalFailure, err)
	}
	s.cache.MarkEmailSent(ctx, user.Email)
	return nil
}

// VerifyEmail consumes a registration code. The cached copy is the single
// consume path: once it is gone, even an unexpired database column reports
// "no code found". Success marks the account verified and logs it in.
func (s *UserService) VerifyEmail(ctx context.Context, email, code, userAgent string) (*models.AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || code == "" {
		return nil, common.ErrBadInput
	}

	allowed, err := s.limiter.Allowed(ctx, rate.PurposeVerification, email)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, common.ErrTooManyAttempts
	}

	stored, found := s.cache.GetVerificationCode(ctx, email)
	if !found {
		return nil, common.ErrNoCode
	}
	if stored != code {
		if _, err := s.limiter.Increment(ctx, rate.PurposeVerification, email); err != nil {
			return nil, err
		}
		return nil, common.ErrInvalidCode
	}

	user, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.IsVerified {
		return nil, fmt.Errorf("%w: already verified", common.ErrConflict)
	}

	verified, err := s.rm.Users(s.db).MarkVerified(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.cache.DeleteVerificationCode(ctx, email)
	s.cache.InvalidateUser(ctx, user.ID, user.Username, user.Email)
	s.cache.SetUser(ctx, verified)
	if err := s.limiter.Reset(ctx, rate.PurposeVerification, email); err != nil {
		s.log.Warn(ctx, "verification limiter reset failed", "email", email, "error", err)
	}

	s.log.Info(ctx, "email verified", "user_id", verified.ID)
	return s.sessions.Complete(ctx, verified, userAgent)
}

// RequestEmailChange issues a code bound to the new address and mails it
// THERE: possession of the new mailbox is what gets verified.
func (s *UserService) RequestEmailChange(ctx context.Context, username, newEmail string) error {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if username == "" || newEmail == "" || !strings.Contains(newEmail, "@") {
		return common.ErrBadInput
	}

	user, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user.Email == newEmail {
		return fmt.Errorf("%w: email unchanged", common.ErrBadInput)
	}

	if _, err := s.FindUserByEmail(ctx, newEmail); err == nil {
		return common.ErrConflict
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	code, err := common.NumericCode(100000, 999999)
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	expiry := time.Now().Add(cache.VerificationTTL)
	if err := s.rm.Users(s.db).SetVerificationCode(ctx, user.ID, code, expiry); err != nil {
		return err
	}
	s.cache.SetEmailChange(ctx, user.Email, &models.PendingEmailChange{
		Code:     code,
		NewEmail: newEmail,
	})
	s.cache.InvalidateUser(ctx, user.ID, user.Username, user.Email)

	msg := notify.EmailChangeEmail(newEmail, user.Username, code, newEmail)
	if err := s.sender.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "email-change mail failed", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrExternalFailure, err)
	}
	s.cache.MarkEmailSent(ctx, newEmail)
	return nil
}

// VerifyEmailChange consumes the pending change. The cached record binds
// the code to the address it was issued for, so a stale request cannot be
// replayed against a different address.
func (s *UserService) VerifyEmailChange(ctx context.Context, username, code string) (*models.PublicUser, error) {
	if username == "" || code == "" {
		return nil, common.ErrBadInput
	}

	allowed, err := s.limiter.Allowed(ctx, rate.PurposeVerification, username)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, common.ErrTooManyAttempts
	}

	user, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	pending, found := s.cache.GetEmailChange(ctx, user.Email)
	if !found {
		return nil, common.ErrNoCode
	}
	if pending.Code != code {
		if _, err := s.limiter.Increment(ctx, rate.PurposeVerification, username); err != nil {
			return nil, err
		}
		return nil, common.ErrInvalidCode
	}

	updated, err := s.rm.Users(s.db).UpdateEmail(ctx, user.ID, pending.NewEmail, user.Username)
	if err != nil {
		return nil, err
	}

	s.cache.DeleteEmailChange(ctx, user.Email)
	// drop entries under the PRE-change address as well as the new state
	s.cache.InvalidateUser(ctx, user.ID, user.Username, user.Email)
	s.cache.SetUser(ctx, updated)
	if err := s.limiter.Reset(ctx, rate.PurposeVerification, username); err != nil {
		s.log.Warn(ctx, "verification limiter reset failed", "username", username, "error", err)
	}

	s.log.Info(ctx, "email changed", "user_id", updated.ID)
	return updated.Public(), nil
}

// UpdateProfile replaces display name and/or picture. Nil fields are left
// untouched.
func (s *UserService) UpdateProfile(ctx context.Context, username string, displayName, profilePicture *string) (*models.PublicUser, error) {
	if username == "" {
		return nil, common.ErrBadInput
	}
	if displayName == nil && profilePicture == nil {
		return nil, fmt.Errorf("%w: nothing to update", common.ErrBadInput)
	}

	updated, err := s.rm.Users(s.db).UpdateProfile(ctx, username, displayName, profilePicture)
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateUser(ctx, updated.ID, updated.Username, updated.Email)
	s.cache.SetUser(ctx, updated)
	return updated.Public(), nil
}

// FindUserByID is a cache-aside lookup: cache first, store on miss,
// repopulate on the way out.
func (s *UserService) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	if user, found := s.cache.GetUserByID(ctx, id); found {
		return user, nil
	}
	user, err := s.rm.Users(s.db).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetUser(ctx, user)
	return user, nil
}

// FindUserByUsername is a cache-aside lookup by username.
func (s *UserService) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if user, found := s.cache.GetUserByUsername(ctx, username); found {
		return user, nil
	}
	user, err := s.rm.Users(s.db).FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	s.cache.SetUser(ctx, user)
	return user, nil
}

// FindUserByEmail is a cache-aside lookup by email.
func (s *UserService) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, found := s.cache.GetUserByEmail(ctx, email); found {
		return user, nil
	}
	user, err := s.rm.Users(s.db).FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	s.cache.SetUser(ctx, user)
	return user, nil
}
