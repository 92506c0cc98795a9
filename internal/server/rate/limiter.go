// Package rate implements fixed-window attempt counting on top of the
// cache. A window opens on the first failed attempt and every further
// failure inside it increments the counter without extending it.
package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/yamazhen/soma-server/internal/server/cache"
)

// Purpose selects an independent counter namespace.
type Purpose string

const (
	PurposeLogin        Purpose = "login"
	PurposeVerification Purpose = "verification"
)

func (p Purpose) keyPrefix() string {
	switch p {
	case PurposeLogin:
		return "login_attempts:"
	case PurposeVerification:
		return "verification_attempts:"
	default:
		return string(p) + "_attempts:"
	}
}

// Limiter counts failed attempts per (purpose, identifier) pair.
type Limiter struct {
	cache  *cache.Cache
	max    int64
	window time.Duration
}

// NewLimiter constructs a Limiter allowing max attempts per window.
func NewLimiter(c *cache.Cache, max int64, window time.Duration) *Limiter {
	return &Limiter{cache: c, max: max, window: window}
}

// Allowed reports whether the identifier is still under the threshold.
func (l *Limiter) Allowed(ctx context.Context, purpose Purpose, identifier string) (bool, error) {
	n, err := l.cache.GetCounter(ctx, purpose.keyPrefix()+identifier)
	if err != nil {
		return false, fmt.Errorf("rate counter read: %w", err)
	}
	return n < l.max, nil
}

// Increment records a failed attempt and reports whether the identifier
// has now reached the threshold.
func (l *Limiter) Increment(ctx context.Context, purpose Purpose, identifier string) (exceeded bool, err error) {
	n, err := l.cache.IncrCounter(ctx, purpose.keyPrefix()+identifier, l.window)
	if err != nil {
		return false, fmt.Errorf("rate counter bump: %w", err)
	}
	return n >= l.max, nil
}

// Reset clears the counter after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, purpose Purpose, identifier string) error {
	if err := l.cache.ResetCounter(ctx, purpose.keyPrefix()+identifier); err != nil {
		return fmt.Errorf("rate counter reset: %w", err)
	}
	return nil
}
