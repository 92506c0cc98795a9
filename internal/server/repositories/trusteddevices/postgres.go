// Package trusteddevices provides a PostgreSQL-backed repository for
// device-trust grants.
package trusteddevices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/dbx"
	"github.com/yamazhen/soma-server/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, userID int64, fingerprint, deviceName string, trustedUntil time.Time) (*models.TrustedDevice, error) {
	query := `
		INSERT INTO trusted_devices (user_id, device_fingerprint, device_name, trusted_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_fingerprint)
		DO UPDATE SET trusted_until = EXCLUDED.trusted_until,
		              device_name = EXCLUDED.device_name,
		              last_used = NOW()
		RETURNING id, user_id, device_fingerprint, device_name, trusted_until, create_date, last_used`

	var name *string
	if deviceName != "" {
		name = &deviceName
	}

	row := r.db.QueryRowContext(ctx, query, userID, fingerprint, name, trustedUntil)
	device, err := scanDevice(row)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return device, nil
}

func (r *PostgresRepository) Find(ctx context.Context, userID int64, fingerprint string) (*models.TrustedDevice, error) {
	query := `
		SELECT id, user_id, device_fingerprint, device_name, trusted_until, create_date, last_used
		FROM trusted_devices WHERE user_id = $1 AND device_fingerprint = $2`

	row := r.db.QueryRowContext(ctx, query, userID, fingerprint)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return device, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE trusted_devices SET last_used = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID int64, fingerprint string) error {
	query := `DELETE FROM trusted_devices WHERE user_id = $1 AND device_fingerprint = $2`
	res, err := r.db.ExecContext(ctx, query, userID, fingerprint)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scanDevice(row *sql.Row) (*models.TrustedDevice, error) {
	var (
		d    models.TrustedDevice
		name sql.NullString
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &name, &d.TrustedUntil,
		&d.CreateDate, &d.LastUsed)
	if err != nil {
		return nil, err
	}
	d.DeviceName = name.String
	return &d, nil
}
