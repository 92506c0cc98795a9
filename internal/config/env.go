package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/yamazhen/soma-server/internal/flagx"
)

// parseEnv overlays Config fields from the process environment. When an
// .env file is supplied via -e/-env-file (or ./.env exists) it is loaded
// first; real environment variables win over file entries.
func parseEnv(cfg *Config) {
	if path := flagx.EnvFileFlag(); path != "" {
		_ = godotenv.Load(path)
	} else {
		_ = godotenv.Load()
	}

	setString(&cfg.EndpointAddr, "ENDPOINT_ADDR")
	setString(&cfg.DatabaseDSN, "DATABASE_DSN")
	setString(&cfg.RedisURI, "REDIS_URI")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTRefreshSecret, "JWT_REFRESH_SECRET")
	setSeconds(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL_SECONDS")
	setSeconds(&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL_SECONDS")
	setInt(&cfg.LoginAttemptLimit, "LOGIN_ATTEMPT_LIMIT")
	setInt(&cfg.VerificationAttemptLimit, "VERIFICATION_ATTEMPT_LIMIT")
	setSeconds(&cfg.RateLimitWindow, "RATE_LIMIT_WINDOW_SECONDS")
	setInt(&cfg.TrustedDeviceDays, "TRUSTED_DEVICE_DAYS")
	setString(&cfg.SMTPHost, "SMTP_HOST")
	setInt(&cfg.SMTPPort, "SMTP_PORT")
	setString(&cfg.SMTPUser, "SMTP_USER")
	setString(&cfg.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.EmailFrom, "EMAIL_FROM")
	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.AppleClientID, "APPLE_CLIENT_ID")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
