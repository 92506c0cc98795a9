// Package httpapi exposes the identity service over HTTP. Handlers stay
// thin: decode, call a service, translate the error. All domain decisions
// live in the services package.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/auth"
	"github.com/yamazhen/soma-server/internal/server/models"
)

// UserFlow is the slice of the user service the API needs.
type UserFlow interface {
	Register(ctx context.Context, username, email, password, displayName string) (*models.PublicUser, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, email, code, userAgent string) (*models.AuthResponse, error)
	RequestEmailChange(ctx context.Context, username, newEmail string) error
	VerifyEmailChange(ctx context.Context, username, code string) (*models.PublicUser, error)
	UpdateProfile(ctx context.Context, username string, displayName, profilePicture *string) (*models.PublicUser, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// LoginFlow is the slice of the login service the API needs.
type LoginFlow interface {
	Initiate(ctx context.Context, identifier, password, userAgent, ip string) (*models.LoginResult, error)
	VerifyLogin(ctx context.Context, email, code string, trustDevice bool, deviceName string) (*models.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID int64) (int64, error)
	ForgetDevice(ctx context.Context, userID int64, userAgent, ip string) error
}

// SocialFlow exchanges provider ID tokens for sessions.
type SocialFlow interface {
	GoogleLogin(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error)
	AppleLogin(ctx context.Context, idToken, deviceInfo string) (*models.AuthResponse, error)
}

// TokenParser validates bearer tokens on authenticated routes.
type TokenParser interface {
	ParseAccessToken(tokenString string) (*auth.AccessClaims, error)
}

type Server struct {
	address string
	users   UserFlow
	login   LoginFlow
	social  SocialFlow
	tokens  TokenParser
	logger  logging.Logger
}

func NewServer(address string, users UserFlow, login LoginFlow, social SocialFlow,
	tokens TokenParser, logger logging.Logger) *Server {
	return &Server{
		address: address,
		users:   users,
		login:   login,
		social:  social,
		tokens:  tokens,
		logger:  logger.With("module", "http_server"),
	}
}

// Router builds the route tree. Exposed separately so tests can drive the
// handlers through httptest without binding a port.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/verify-email", s.handleVerifyEmail)
		r.Post("/auth/resend-verification", s.handleResendVerification)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/verify-login", s.handleVerifyLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)
		r.Post("/auth/google", s.handleGoogleLogin)
		r.Post("/auth/apple", s.handleAppleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccessToken)
			r.Get("/users/me", s.handleMe)
			r.Patch("/users/me", s.handleUpdateProfile)
			r.Post("/users/email-change", s.handleRequestEmailChange)
			r.Post("/users/email-change/verify", s.handleVerifyEmailChange)
			r.Delete("/users/devices/current", s.handleForgetDevice)
			r.Post("/auth/logout-all", s.handleLogoutAll)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
