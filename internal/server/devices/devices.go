// Package devices implements device fingerprinting and the trust grants
// that let a returning device skip the login code.
package devices

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/logging"
	"github.com/yamazhen/soma-server/internal/server/models"
	"github.com/yamazhen/soma-server/internal/server/repositories/trusteddevices"
)

// Fingerprint derives a stable identifier from the client's user agent and
// address. FNV is deliberate: this is a recognition heuristic, not a
// security boundary, and the trust grant it selects is still gated by the
// password check.
func Fingerprint(userAgent, ip string) string {
	h := fnv.New64a()
	h.Write([]byte(userAgent))
	h.Write([]byte("|"))
	h.Write([]byte(ip))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Manager answers trust queries and records new grants.
type Manager struct {
	repo trusteddevices.Repository
	log  logging.Logger
}

// NewManager constructs a Manager over the trusted-devices repository.
func NewManager(repo trusteddevices.Repository, log logging.Logger) *Manager {
	return &Manager{repo: repo, log: log.With("component", "devices")}
}

// IsTrusted reports whether the (user, fingerprint) pair holds an unexpired
// grant. A hit bumps last_used without extending the grant; an expired row
// reports untrusted without touching it.
func (m *Manager) IsTrusted(ctx context.Context, userID int64, fingerprint string) (bool, error) {
	device, err := m.repo.Find(ctx, userID, fingerprint)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if time.Now().After(device.TrustedUntil) {
		return false, nil
	}

	if err := m.repo.Touch(ctx, device.ID); err != nil {
		// the trust decision stands even if the bookkeeping write fails
		m.log.Warn(ctx, "trusted device touch failed", "device_id", device.ID, "error", err)
	}
	return true, nil
}

// Trust grants (or renews) trust for the pair until now + days.
func (m *Manager) Trust(ctx context.Context, userID int64, fingerprint, deviceName string, days int) (*models.TrustedDevice, error) {
	until := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	device, err := m.repo.Upsert(ctx, userID, fingerprint, deviceName, until)
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Revoke removes the grant for the pair.
func (m *Manager) Revoke(ctx context.Context, userID int64, fingerprint string) error {
	return m.repo.Delete(ctx, userID, fingerprint)
}
