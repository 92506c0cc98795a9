// Package cache is the ephemeral Redis layer in front of the relational
// store. It is never authoritative: every read degrades to a miss on error
// and every write failure is logged and swallowed, so a dead Redis slows
// the service down but never breaks it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/models"
)

// Cache wraps a Redis client with the service's namespaced, JSON-encoded
// operations. Safe for concurrent use.
type Cache struct {
	rdb redis.UniversalClient
	log logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Errors int64
}

// New constructs a Cache over the given Redis client.
func New(rdb redis.UniversalClient, log logging.Logger) *Cache {
	return &Cache{rdb: rdb, log: log.With("component", "cache")}
}

// Stats returns the current hit/miss/error counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Errors: c.errs.Load()}
}

// getJSON reads key into dest. A missing key or any Redis/decode failure
// reports !found; failures additionally bump the error counter.
func (c *Cache) getJSON(ctx context.Context, key string, dest any) (found bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errs.Add(1)
			c.log.Warn(ctx, "cache read failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.errs.Add(1)
		c.log.Warn(ctx, "cache decode failed", "key", key, "error", err)
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.errs.Add(1)
		c.log.Warn(ctx, "cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.errs.Add(1)
		c.log.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) getString(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errs.Add(1)
			c.log.Warn(ctx, "cache read failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return val, true
}

func (c *Cache) setString(ctx context.Context, key, val string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		c.errs.Add(1)
		c.log.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) del(ctx context.Context, keys ...string) {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.errs.Add(1)
		c.log.Warn(ctx, "cache delete failed", "keys", keys, "error", err)
	}
}

// SetUser caches the user under all three lookup keys.
func (c *Cache) SetUser(ctx context.Context, u *models.User) {
	c.setJSON(ctx, prefixUserID+strconv.FormatInt(u.ID, 10), u, UserTTL)
	c.setJSON(ctx, prefixUserUsername+u.Username, u, UserTTL)
	c.setJSON(ctx, prefixUserEmail+u.Email, u, UserTTL)
}

func (c *Cache) GetUserByID(ctx context.Context, id int64) (*models.User, bool) {
	var u models.User
	if !c.getJSON(ctx, prefixUserID+strconv.FormatInt(id, 10), &u) {
		return nil, false
	}
	return &u, true
}

func (c *Cache) GetUserByUsername(ctx context.Context, username string) (*models.User, bool) {
	var u models.User
	if !c.getJSON(ctx, prefixUserUsername+username, &u) {
		return nil, false
	}
	return &u, true
}

func (c *Cache) GetUserByEmail(ctx context.Context, email string) (*models.User, bool) {
	var u models.User
	if !c.getJSON(ctx, prefixUserEmail+email, &u) {
		return nil, false
	}
	return &u, true
}

// InvalidateUser drops all three. Callers must pass the PRE-update
// email/username so stale keys are removed after a rename.
func (c *Cache) InvalidateUser(ctx context.Context, id int64, username, email string) {
	c.del(ctx,
		prefixUserID+strconv.FormatInt(id, 10),
		prefixUserUsername+username,
		prefixUserEmail+email)
}

// SetVerificationCode stores the registration code keyed by email.
func (c *Cache) SetVerificationCode(ctx context.Context, email, code string) {
	c.setString(ctx, prefixVerification+email, code, VerificationTTL)
}

func (c *Cache) GetVerificationCode(ctx context.Context, email string) (string, bool) {
	return c.getString(ctx, prefixVerification+email)
}

func (c *Cache) DeleteVerificationCode(ctx context.Context, email string) {
	c.del(ctx, prefixVerification+email)
}

// SetEmailChange stores a pending email-change record keyed by the current
// address, binding the code to the address it was issued for.
func (c *Cache) SetEmailChange(ctx context.Context, currentEmail string, rec *models.PendingEmailChange) {
	c.setJSON(ctx, prefixEmailChange+currentEmail, rec, VerificationTTL)
}

func (c *Cache) GetEmailChange(ctx context.Context, currentEmail string) (*models.PendingEmailChange, bool) {
	var rec models.PendingEmailChange
	if !c.getJSON(ctx, prefixEmailChange+currentEmail, &rec) {
		return nil, false
	}
	return &rec, true
}

func (c *Cache) DeleteEmailChange(ctx context.Context, currentEmail string) {
	c.del(ctx, prefixEmailChange+currentEmail)
}

// SetLoginOTP stores the short login code sent during two-step login.
func (c *Cache) SetLoginOTP(ctx context.Context, email, code string) {
	c.setString(ctx, prefixLoginOTP+email, code, LoginOTPTTL)
}

func (c *Cache) GetLoginOTP(ctx context.Context, email string) (string, bool) {
	return c.getString(ctx, prefixLoginOTP+email)
}

func (c *Cache) DeleteLoginOTP(ctx context.Context, email string) {
	c.del(ctx, prefixLoginOTP+email)
}

// SetLoginSession stores the pending two-step login state.
func (c *Cache) SetLoginSession(ctx context.Context, email string, sess *models.LoginSession) {
	c.setJSON(ctx, prefixLoginSession+email, sess, LoginSessionTTL)
}

func (c *Cache) GetLoginSession(ctx context.Context, email string) (*models.LoginSession, bool) {
	var sess models.LoginSession
	if !c.getJSON(ctx, prefixLoginSession+email, &sess) {
		return nil, false
	}
	return &sess, true
}

func (c *Cache) DeleteLoginSession(ctx context.Context, email string) {
	c.del(ctx, prefixLoginSession+email)
}

// SetRefreshToken caches the denormalized projection keyed by the token
// string. The TTL is the time to expiry, capped at the session ceiling.
func (c *Cache) SetRefreshToken(ctx context.Context, token string, proj *models.CachedRefreshToken) {
	ttl := time.Until(proj.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if ttl > SessionCeiling {
		ttl = SessionCeiling
	}
	c.setJSON(ctx, prefixRefreshToken+token, proj, ttl)
}

func (c *Cache) GetRefreshToken(ctx context.Context, token string) (*models.CachedRefreshToken, bool) {
	var proj models.CachedRefreshToken
	if !c.getJSON(ctx, prefixRefreshToken+token, &proj) {
		return nil, false
	}
	return &proj, true
}

func (c *Cache) DeleteRefreshToken(ctx context.Context, token string) {
	c.del(ctx, prefixRefreshToken+token)
}

// IncrCounter increments key, stamping the window TTL on first increment.
// Unlike reads, counter errors are surfaced: the rate limiter must not
// silently treat an unreachable Redis as "no attempts recorded".
func (c *Cache) IncrCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		c.errs.Add(1)
		return 0, err
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			c.errs.Add(1)
			return n, err
		}
	}
	return n, nil
}

// GetCounter returns the current counter value, zero when absent.
func (c *Cache) GetCounter(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		c.errs.Add(1)
		return 0, err
	}
	return n, nil
}

// ResetCounter removes the counter.
func (c *Cache) ResetCounter(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// MarkEmailSent stamps the per-address cooldown and bumps the hourly
// send counter.
func (c *Cache) MarkEmailSent(ctx context.Context, email string) {
	c.setString(ctx, prefixRecentEmail+email, "1", EmailCooldown)
	if _, err := c.IncrCounter(ctx, prefixEmailCount+email, EmailCountTTL); err != nil {
		c.log.Warn(ctx, "email counter bump failed", "email", email, "error", err)
	}
}

// RecentlyEmailed reports whether the address is inside the send cooldown.
func (c *Cache) RecentlyEmailed(ctx context.Context, email string) bool {
	_, found := c.getString(ctx, prefixRecentEmail+email)
	return found
}

// EmailCount returns how many messages were sent to the address in the
// current window. Errors degrade to zero.
func (c *Cache) EmailCount(ctx context.Context, email string) int64 {
	n, err := c.GetCounter(ctx, prefixEmailCount+email)
	if err != nil {
		c.log.Warn(ctx, "email counter read failed", "email", email, "error", err)
		return 0
	}
	return n
}
