// Package server initializes and runs the identity service. It wires the
// relational store, the ephemeral cache, outbound mail, and the HTTP API,
// and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/yamazhen/soma-server/internal/config"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/auth"
	"github.com/yamazhen/soma-server/internal/server/cache"
	"github.com/yamazhen/soma-server/internal/server/devices"
	"github.com/yamazhen/soma-server/internal/server/httpapi"
	"github.com/yamazhen/soma-server/internal/server/models"
	"github.com/yamazhen/soma-server/internal/server/notify"
	"github.com/yamazhen/soma-server/internal/server/rate"
	"github.com/yamazhen/soma-server/internal/server/repositories/repomanager"
	"github.com/yamazhen/soma-server/internal/server/services"
	"github.com/yamazhen/soma-server/internal/server/socialauth"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	rdb        *redis.Client
	rm         repomanager.RepositoryManager
	httpServer *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	rm := repomanager.NewPostgresRepositoryManager()
	c := cache.New(rdb, logger)

	issuer := auth.NewIssuer([]byte(cfg.JWTSecret), []byte(cfg.JWTRefreshSecret),
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	loginLimiter := rate.NewLimiter(c, int64(cfg.LoginAttemptLimit), cfg.RateLimitWindow)
	verificationLimiter := rate.NewLimiter(c, int64(cfg.VerificationAttemptLimit), cfg.RateLimitWindow)

	smtpAddr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	sender := notify.NewSMTPSender(cfg.SMTPHost, smtpAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)

	deviceManager := devices.NewManager(rm.TrustedDevices(db), logger)

	userService := services.NewUserService(db, rm, c, verificationLimiter, sender, logger)
	loginService := services.NewLoginService(db, rm, c, loginLimiter, issuer, deviceManager,
		sender, logger, cfg.TrustedDeviceDays)
	userService.SetSessionIssuer(loginService)

	verifiers := map[models.SocialProvider]services.TokenVerifier{}
	if cfg.GoogleClientID != "" {
		verifiers[models.ProviderGoogle] = socialauth.NewGoogleVerifier(cfg.GoogleClientID)
	}
	if cfg.AppleClientID != "" {
		verifiers[models.ProviderApple] = socialauth.NewAppleVerifier(cfg.AppleClientID)
	}
	socialService := services.NewSocialService(db, rm, c, loginService, verifiers, logger)

	httpServer := httpapi.NewServer(cfg.EndpointAddr, userService, loginService, socialService,
		issuer, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		rm:         rm,
		httpServer: httpServer,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	if err := app.rdb.Ping(ctx).Err(); err != nil {
		app.logger.Error(ctx, "redis unreachable, cache degraded", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	if err := app.rdb.Close(); err != nil {
		app.logger.Error(ctx, "redis close error", "error", err)
	}

	return nil
}
