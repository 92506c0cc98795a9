package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/auth"
	"github.com/yamazhen/soma-server/internal/server/models"
)

type stubUsers struct {
	register           func(ctx context.Context, username, email, password, displayName string) (*models.PublicUser, error)
	verifyEmail        func(ctx context.Context, email, code, userAgent string) (*models.AuthResponse, error)
	resendVerification func(ctx context.Context, email string) error
	requestEmailChange func(ctx context.Context, username, newEmail string) error
	verifyEmailChange  func(ctx context.Context, username, code string) (*models.PublicUser, error)
	updateProfile      func(ctx context.Context, username string, displayName, profilePicture *string) (*models.PublicUser, error)
	findByUsername     func(ctx context.Context, username string) (*models.User, error)
}

func (s *stubUsers) Register(ctx context.Context, username, email, password, displayName string) (*models.PublicUser, error) {
	return s.register(ctx, username, email, password, displayName)
}
func (s *stubUsers) VerifyEmail(ctx context.Context, email, code, userAgent string) (*models.AuthResponse, error) {
	return s.verifyEmail(ctx, email, code, userAgent)
}
func (s *stubUsers) ResendVerification(ctx context.Context, email string) error {
	return s.resendVerification(ctx, email)
}
func (s *stubUsers) RequestEmailChange(ctx context.Context, username, newEmail string) error {
	return s.requestEmailChange(ctx, username, newEmail)
}
func (s *stubUsers) VerifyEmailChange(ctx context.Context, username, code string) (*models.PublicUser, error) {
	return s.verifyEmailChange(ctx, username, code)
}
func (s *stubUsers) UpdateProfile(ctx context.Context, username string, displayName, profilePicture *string) (*models.PublicUser, error) {
	return s.updateProfile(ctx, username, displayName, profilePicture)
}
func (s *stubUsers) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findByUsername(ctx, username)
}

type stubLogin struct {
	initiate     func(ctx context.Context, identifier, password, userAgent, ip string) (*models.LoginResult, error)
	verifyLogin  func(ctx context.Context, email, code string, trustDevice bool, deviceName string) (*models.AuthResponse, error)
	refresh      func(ctx context.Context, refreshToken string) (*models.RefreshResult, error)
	logout       func(ctx context.Context, refreshToken string) error
	logoutAll    func(ctx context.Context, userID int64) (int64, error)
	forgetDevice func(ctx context.Context, userID int64, userAgent, ip string) error
}

func (s *stubLogin) Initiate(ctx context.Context, identifier, password, userAgent, ip string) (*models.LoginResult, error) {
	return s.initiate(ctx, identifier, password, userAgent, ip)
}
func (s *stubLogin) VerifyLogin(ctx context.Context, email, code string, trustDevice bool, deviceName string) (*models.AuthResponse, error) {
	return s.verifyLogin(ctx, email, code, trustDevice, deviceName)
}
func (s *stubLogin) Refresh(ctx context.Context, refreshToken string) (*models.RefreshResult, error) {
	return s.refresh(ctx, refreshToken)
}
func (s *stubLogin) Logout(ctx context.Context, refreshToken string) error {
	return s.logout(ctx, refreshToken)
}
func (s *stubLogin) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	return s.logoutAll(ctx, userID)
}
func (s *stubLogin) ForgetDevice(ctx context.Context, userID int64, userAgent, ip string) error {
	return s.forgetDevice(ctx, userID, userAgent, ip)
}

type stubSocial struct {
	google func(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error)
	apple  func(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error)
}

func (s *stubSocial) GoogleLogin(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error) {
	return s.google(ctx, idToken, deviceInfo)
}
func (s *stubSocial) AppleLogin(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error) {
	return s.apple(ctx, idToken, deviceInfo)
}

type apiFixture struct {
	users  *stubUsers
	login  *stubLogin
	social *stubSocial
	issuer *auth.Issuer
	srv    *Server
}

func newFixture() *apiFixture {
	f := &apiFixture{
		users:  &stubUsers{},
		login:  &stubLogin{},
		social: &stubSocial{},
		issuer: auth.NewIssuer([]byte("access-secret"), []byte("refresh-secret"),
			15*time.Minute, 7*24*time.Hour),
	}
	log := logging.Discard()
	f.srv = NewServer(":0", f.users, f.login, f.social, f.issuer, log)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) bearer(t *testing.T, userID int64, username, email string) map[string]string {
	t.Helper()
	token, err := f.issuer.IssueAccessToken(userID, username, email)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestRegister(t *testing.T) {
	f := newFixture()
	f.users.register = func(ctx context.Context, username, email, password, displayName string) (*models.PublicUser, error) {
		assert.Equal(t, "alice", username)
		return &models.PublicUser{ID: 1, Username: username, Email: email}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", registerRequest{
		Username: "alice", Email: "alice@example.com", Password: "correct horse",
	}, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	got := decodeBody[models.PublicUser](t, rec)
	assert.Equal(t, int64(1), got.ID)
}

func TestRegister_Conflict(t *testing.T) {
	f := newFixture()
	f.users.register = func(ctx context.Context, _, _, _, _ string) (*models.PublicUser, error) {
		return nil, common.ErrConflict
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", registerRequest{Username: "alice"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_MalformedBody(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEmail_ReturnsSession(t *testing.T) {
	f := newFixture()
	f.users.verifyEmail = func(ctx context.Context, email, code, userAgent string) (*models.AuthResponse, error) {
		assert.Equal(t, "123456", code)
		return &models.AuthResponse{
			User:   &models.PublicUser{ID: 1, Email: email},
			Tokens: &models.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 900},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/verify-email", verifyEmailRequest{
		Email: "alice@example.com", Code: "123456",
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.AuthResponse](t, rec)
	assert.Equal(t, "rt", got.Tokens.RefreshToken)
}

func TestVerifyEmail_WrongCode(t *testing.T) {
	f := newFixture()
	f.users.verifyEmail = func(ctx context.Context, _, _, _ string) (*models.AuthResponse, error) {
		return nil, common.ErrInvalidCode
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/verify-email", verifyEmailRequest{
		Email: "alice@example.com", Code: "000000",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_UntrustedDevice(t *testing.T) {
	f := newFixture()
	f.login.initiate = func(ctx context.Context, identifier, password, userAgent, ip string) (*models.LoginResult, error) {
		assert.NotContains(t, ip, ":", "port must be stripped")
		return &models.LoginResult{RequiresVerification: true, Email: "al***@example.com"}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Identifier: "alice", Password: "correct horse",
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.LoginResult](t, rec)
	assert.True(t, got.RequiresVerification)
	assert.Equal(t, "al***@example.com", got.Email)
}

func TestLogin_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad input", common.ErrBadInput, http.StatusBadRequest},
		{"wrong password", common.ErrInvalidCredentials, http.StatusUnauthorized},
		{"unverified", common.ErrMustVerify, http.StatusForbidden},
		{"disabled", common.ErrAccountDisabled, http.StatusForbidden},
		{"throttled", common.ErrTooManyAttempts, http.StatusTooManyRequests},
		{"mail outage", common.ErrExternalFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.login.initiate = func(ctx context.Context, _, _, _, _ string) (*models.LoginResult, error) {
				return nil, tt.err
			}
			rec := f.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Identifier: "alice"}, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	f := newFixture()
	f.login.initiate = func(ctx context.Context, _, _, _, _ string) (*models.LoginResult, error) {
		return nil, errors.New("pq: connection refused on 10.0.0.3")
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Identifier: "alice"}, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "internal error", got.Error)
}

func TestVerifyLogin(t *testing.T) {
	f := newFixture()
	f.login.verifyLogin = func(ctx context.Context, email, code string, trustDevice bool, deviceName string) (*models.AuthResponse, error) {
		assert.True(t, trustDevice)
		assert.Equal(t, "my laptop", deviceName)
		return &models.AuthResponse{
			User:   &models.PublicUser{ID: 7},
			Tokens: &models.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 900},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/verify-login", verifyLoginRequest{
		Email: "alice@example.com", Code: "1234", TrustDevice: true, DeviceName: "my laptop",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh(t *testing.T) {
	f := newFixture()
	f.login.refresh = func(ctx context.Context, refreshToken string) (*models.RefreshResult, error) {
		if refreshToken != "good" {
			return nil, common.ErrInvalidRefreshToken
		}
		return &models.RefreshResult{AccessToken: "new-at", ExpiresIn: 900}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: "good"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.RefreshResult](t, rec)
	assert.Equal(t, "new-at", got.AccessToken)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: "bad"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture()
	f.login.refresh = func(ctx context.Context, _ string) (*models.RefreshResult, error) {
		return nil, common.ErrRefreshTokenExpired
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: "old"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGoogleLogin(t *testing.T) {
	f := newFixture()
	f.social.google = func(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error) {
		assert.Equal(t, "tok-1", idToken)
		return &models.AuthResponse{
			User:   &models.PublicUser{ID: 3},
			Tokens: &models.TokenPair{AccessToken: "at"},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/google", socialLoginRequest{IDToken: "tok-1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatedRoutes_RequireToken(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/v1/users/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/users/me", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	f := newFixture()
	f.users.findByUsername = func(ctx context.Context, username string) (*models.User, error) {
		assert.Equal(t, "alice", username)
		return &models.User{ID: 1, Username: username, Email: "alice@example.com", IsVerified: true}, nil
	}

	rec := f.do(t, http.MethodGet, "/api/v1/users/me", nil, f.bearer(t, 1, "alice", "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.PublicUser](t, rec)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.IsVerified)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture()
	name := "Alice L."
	f.users.updateProfile = func(ctx context.Context, username string, displayName, profilePicture *string) (*models.PublicUser, error) {
		require.NotNil(t, displayName)
		assert.Equal(t, name, *displayName)
		assert.Nil(t, profilePicture)
		return &models.PublicUser{ID: 1, Username: username, DisplayName: displayName}, nil
	}

	rec := f.do(t, http.MethodPatch, "/api/v1/users/me", updateProfileRequest{DisplayName: &name},
		f.bearer(t, 1, "alice", "alice@example.com"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmailChangeFlow(t *testing.T) {
	f := newFixture()
	f.users.requestEmailChange = func(ctx context.Context, username, newEmail string) error {
		assert.Equal(t, "alice", username)
		assert.Equal(t, "new@example.com", newEmail)
		return nil
	}
	f.users.verifyEmailChange = func(ctx context.Context, username, code string) (*models.PublicUser, error) {
		return &models.PublicUser{ID: 1, Username: username, Email: "new@example.com"}, nil
	}
	headers := f.bearer(t, 1, "alice", "alice@example.com")

	rec := f.do(t, http.MethodPost, "/api/v1/users/email-change",
		emailChangeRequest{NewEmail: "new@example.com"}, headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/users/email-change/verify",
		verifyEmailChangeRequest{Code: "123456"}, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.PublicUser](t, rec)
	assert.Equal(t, "new@example.com", got.Email)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture()
	f.login.logoutAll = func(ctx context.Context, userID int64) (int64, error) {
		assert.Equal(t, int64(1), userID)
		return 3, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout-all", nil,
		f.bearer(t, 1, "alice", "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[logoutAllResponse](t, rec)
	assert.Equal(t, int64(3), got.Revoked)
}

func TestForgetDevice(t *testing.T) {
	f := newFixture()
	f.login.forgetDevice = func(ctx context.Context, userID int64, userAgent, ip string) error {
		assert.Equal(t, int64(1), userID)
		assert.Equal(t, "Firefox on Linux", userAgent)
		assert.Equal(t, "192.0.2.1", ip)
		return nil
	}

	headers := f.bearer(t, 1, "alice", "alice@example.com")
	headers["User-Agent"] = "Firefox on Linux"
	rec := f.do(t, http.MethodDelete, "/api/v1/users/devices/current", nil, headers)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
