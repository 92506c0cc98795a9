package config

import (
	"flag"
	"os"
	"time"

	"github.com/yamazhen/soma-server/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-r string   Redis URI
//	-s string   JWT access-token secret
//	-k string   JWT refresh-token secret
//	-t int      access token validity, seconds
//	-l int      refresh token validity, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-r", "-s", "-k", "-t", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURI, "r", config.RedisURI, "redis URI")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "access token secret key")
	fs.StringVar(&config.JWTRefreshSecret, "k", config.JWTRefreshSecret, "refresh token secret key")

	accessTTL := fs.Int("t", int(config.AccessTokenTTL.Seconds()), "access token validity (in seconds)")
	refreshTTL := fs.Int("l", int(config.RefreshTokenTTL.Seconds()), "refresh token validity (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenTTL = time.Duration(*accessTTL) * time.Second
	config.RefreshTokenTTL = time.Duration(*refreshTTL) * time.Second
}
