package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/dbx"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/auth"
	"github.com/yamazhen/soma-server/internal/server/cache"
	"github.com/yamazhen/soma-server/internal/server/devices"
	"github.com/yamazhen/soma-server/internal/server/models"
	"github.com/yamazhen/soma-server/internal/server/notify"
	"github.com/yamazhen/soma-server/internal/server/rate"
	"github.com/yamazhen/soma-server/internal/server/repositories/repomanager"
)

const unknownDevice = "Unknown Device"

// LoginService owns both login protocols, token refresh and logout.
type LoginService struct {
	db          *sql.DB
	rm          repomanager.RepositoryManager
	cache       *cache.Cache
	limiter     *rate.Limiter
	issuer      *auth.Issuer
	devices     *devices.Manager
	sender      notify.Sender
	log         logging.Logger
	trustedDays int
}

// NewLoginService wires a LoginService.
func NewLoginService(db *sql.DB, rm repomanager.RepositoryManager, c *cache.Cache,
	limiter *rate.Limiter, issuer *auth.Issuer, dm *devices.Manager,
	sender notify.Sender, log logging.Logger, trustedDays int) *LoginService {
	return &LoginService{
		db:          db,
		rm:          rm,
		cache:       c,
		limiter:     limiter,
		issuer:      issuer,
		devices:     dm,
		sender:      sender,
		log:         log.With("component", "login"),
		trustedDays: trustedDays,
	}
}

// checkCredentials runs the shared gate sequence: rate limit, lookup,
// verified/active flags, password. Unknown identifier and wrong password
// both report ErrInvalidCredentials, and both count against the limiter.
func (s *LoginService) checkCredentials(ctx context.Context, identifier, password string) (*models.User, error) {
	if identifier == "" || password == "" {
		return nil, common.ErrBadInput
	}

	allowed, err := s.limiter.Allowed(ctx, rate.PurposeLogin, identifier)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, common.ErrTooManyAttempts
	}

	user, err := s.rm.Users(s.db).FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			if _, err := s.limiter.Increment(ctx, rate.PurposeLogin, identifier); err != nil {
				return nil, err
			}
			return nil, common.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsVerified {
		return nil, common.ErrMustVerify
	}
	if !user.IsActive {
		return nil, common.ErrAccountDisabled
	}

	// social-only accounts have no password to compare
	if user.Password == nil {
		return nil, common.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(password)); err != nil {
		if _, err := s.limiter.Increment(ctx, rate.PurposeLogin, identifier); err != nil {
			return nil, err
		}
		return nil, common.ErrInvalidCredentials
	}

	if err := s.limiter.Reset(ctx, rate.PurposeLogin, identifier); err != nil {
		s.log.Warn(ctx, "login limiter reset failed", "identifier", identifier, "error", err)
	}
	return user, nil
}

// Initiate is the first step of the two-phase login. A trusted device gets
// tokens immediately; anything else gets a 4-digit code mailed to the
// account address and a pending session, and learns only a masked address.
func (s *LoginService) Initiate(ctx context.Context, identifier, password, userAgent, ip string) (*models.LoginResult, error) {
	user, err := s.checkCredentials(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	fingerprint := devices.Fingerprint(userAgent, ip)
	trusted, err := s.devices.IsTrusted(ctx, user.ID, fingerprint)
	if err != nil {
		return nil, err
	}
	if trusted {
		resp, err := s.Complete(ctx, user, userAgent)
		if err != nil {
			return nil, err
		}
		return &models.LoginResult{Auth: resp}, nil
	}

	code, err := common.NumericCode(1000, 9999)
	if err != nil {
		return nil, fmt.Errorf("generate login code: %w", err)
	}

	s.cache.SetLoginOTP(ctx, user.Email, code)
	s.cache.SetLoginSession(ctx, user.Email, &models.LoginSession{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Fingerprint: fingerprint,
		UserAgent:   userAgent,
	})

	msg := notify.LoginCodeEmail(user.Email, user.Username, code)
	if err := s.sender.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "login code mail failed", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrExternalFailure, err)
	}
	s.cache.MarkEmailSent(ctx, user.Email)

	return &models.LoginResult{
		RequiresVerification: true,
		Email:                common.MaskEmail(user.Email),
	}, nil
}

// VerifyLogin is the second step of the two-phase login. The code is
// single-use: both it and the pending session are deleted on success AND
// on mismatch exhaustion via TTL. A missing session reports SessionExpired
// before the code is even looked at. Mismatches count against the login
// limiter under the account email, and a match clears it.
func (s *LoginService) VerifyLogin(ctx context.Context, email, code string, trustDevice bool, deviceName string) (*models.AuthResponse, error) {
	if email == "" || code == "" {
		return nil, common.ErrBadInput
	}

	sess, found := s.cache.GetLoginSession(ctx, email)
	if !found {
		return nil, common.ErrSessionExpired
	}

	allowed, err := s.limiter.Allowed(ctx, rate.PurposeLogin, email)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, common.ErrTooManyAttempts
	}

	stored, found := s.cache.GetLoginOTP(ctx, email)
	if !found {
		return nil, common.ErrNoCode
	}
	if stored != code {
		if _, err := s.limiter.Increment(ctx, rate.PurposeLogin, email); err != nil {
			return nil, err
		}
		return nil, common.ErrInvalidCode
	}

	s.cache.DeleteLoginOTP(ctx, email)
	s.cache.DeleteLoginSession(ctx, email)

	if err := s.limiter.Reset(ctx, rate.PurposeLogin, email); err != nil {
		s.log.Warn(ctx, "login limiter reset failed", "email", email, "error", err)
	}

	if trustDevice {
		if deviceName == "" {
			deviceName = sess.UserAgent
		}
		if _, err := s.devices.Trust(ctx, sess.UserID, sess.Fingerprint, deviceName, s.trustedDays); err != nil {
			// the login itself succeeded; trust is best-effort
			s.log.Warn(ctx, "device trust failed", "user_id", sess.UserID, "error", err)
		}
	}

	user, err := s.rm.Users(s.db).FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, user, sess.UserAgent)
}

// ForgetDevice drops the trust grant for the calling device, so its next
// login goes back through the code step. Forgetting a device that was never
// trusted is not an error.
func (s *LoginService) ForgetDevice(ctx context.Context, userID int64, userAgent, ip string) error {
	fingerprint := devices.Fingerprint(userAgent, ip)
	if err := s.devices.Revoke(ctx, userID, fingerprint); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	s.log.Info(ctx, "device trust revoked", "user_id", userID)
	return nil
}

// Login is the single-step protocol: correct credentials yield tokens with
// no device checks. Kept for clients that have not adopted two-phase login.
func (s *LoginService) Login(ctx context.Context, identifier, password, deviceInfo string) (*models.AuthResponse, error) {
	user, err := s.checkCredentials(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, user, deviceInfo)
}

// Complete mints a token pair for an authenticated user. The refresh grant
// is persisted in the store first; only then is the cache projection
// written. Also stamps last_login.
func (s *LoginService) Complete(ctx context.Context, user *models.User, deviceInfo string) (*models.AuthResponse, error) {
	if deviceInfo == "" {
		deviceInfo = unknownDevice
	}

	accessToken, err := s.issuer.IssueAccessToken(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, err
	}
	refreshToken, expiresAt, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.rm.RefreshTokens(tx).Create(ctx, &models.RefreshToken{
			UserID:     user.ID,
			Token:      refreshToken,
			ExpiresAt:  expiresAt,
			DeviceInfo: deviceInfo,
		}); err != nil {
			return err
		}
		return s.rm.Users(tx).StampLastLogin(ctx, user.ID)
	})
	if err != nil {
		return nil, err
	}

	s.cache.SetRefreshToken(ctx, refreshToken, &models.CachedRefreshToken{
		UserID:     user.ID,
		Username:   user.Username,
		Email:      user.Email,
		ExpiresAt:  expiresAt,
		DeviceInfo: deviceInfo,
	})
	s.cache.InvalidateUser(ctx, user.ID, user.Username, user.Email)

	s.log.Info(ctx, "login completed", "user_id", user.ID, "device", deviceInfo)
	return &models.AuthResponse{
		User: user.Public(),
		Tokens: &models.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
		},
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The cached
// projection is consulted first to skip the store round-trip; on a miss
// the store row is authoritative. A token with a valid signature but no
// row has been revoked and reports InvalidRefreshToken.
func (s *LoginService) Refresh(ctx context.Context, refreshToken string) (*models.RefreshResult, error) {
	if refreshToken == "" {
		return nil, common.ErrBadInput
	}

	claims, err := s.issuer.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	if proj, found := s.cache.GetRefreshToken(ctx, refreshToken); found {
		if proj.UserID != claims.UserID {
			return nil, common.ErrInvalidRefreshToken
		}
		if time.Now().After(proj.ExpiresAt) {
			return nil, common.ErrRefreshTokenExpired
		}
		return s.mintAccess(proj.UserID, proj.Username, proj.Email)
	}

	row, err := s.rm.RefreshTokens(s.db).Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, err
	}
	if row.UserID != claims.UserID {
		return nil, common.ErrInvalidRefreshToken
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, common.ErrRefreshTokenExpired
	}

	user, err := s.rm.Users(s.db).FindByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, err
	}

	// repopulate so the next refresh skips the store
	s.cache.SetRefreshToken(ctx, refreshToken, &models.CachedRefreshToken{
		UserID:     user.ID,
		Username:   user.Username,
		Email:      user.Email,
		ExpiresAt:  row.ExpiresAt,
		DeviceInfo: row.DeviceInfo,
	})

	return s.mintAccess(user.ID, user.Username, user.Email)
}

func (s *LoginService) mintAccess(userID int64, username, email string) (*models.RefreshResult, error) {
	accessToken, err := s.issuer.IssueAccessToken(userID, username, email)
	if err != nil {
		return nil, err
	}
	return &models.RefreshResult{
		AccessToken: accessToken,
		ExpiresIn:   int(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes a single grant. Revoking a token that is already gone is
// not an error.
func (s *LoginService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return common.ErrBadInput
	}

	if err := s.rm.RefreshTokens(s.db).Delete(ctx, refreshToken); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	s.cache.DeleteRefreshToken(ctx, refreshToken)
	return nil
}

// LogoutAll revokes every grant the user holds and reports how many were
// removed. Cached projections cannot be enumerated by user; they fall out
// on their own within the session ceiling.
func (s *LoginService) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.rm.RefreshTokens(s.db).DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "all sessions revoked", "user_id", userID, "count", n)
	return n, nil
}
