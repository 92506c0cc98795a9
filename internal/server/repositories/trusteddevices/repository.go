package trusteddevices

import (
	"context"
	"time"

	"github.com/yamazhen/soma-server/internal/server/models"
)

// Repository is the durable store for device-trust grants. Find returns
// common.ErrNotFound when the (user, fingerprint) pair has no grant.
type Repository interface {
	// Upsert inserts a grant or, if the pair already exists, replaces its
	// trusted_until and bumps last_used.
	Upsert(ctx context.Context, userID int64, fingerprint, deviceName string, trustedUntil time.Time) (*models.TrustedDevice, error)
	Find(ctx context.Context, userID int64, fingerprint string) (*models.TrustedDevice, error)
	// Touch bumps last_used without extending trusted_until.
	Touch(ctx context.Context, id int64) error
	Delete(ctx context.Context, userID int64, fingerprint string) error
}
