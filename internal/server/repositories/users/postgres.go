// Package users provides a PostgreSQL-backed repository for identity
// records.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yamazhen/soma-server/internal/common"
	"github.com/yamazhen/soma-server/internal/dbx"
	"github.com/yamazhen/soma-server/internal/server/models"
)

const userColumns = `id, username, email, password, display_name, profile_picture,
	       is_active, is_verified, verification_code, verification_code_expiry,
	       google_id, apple_id, last_login, create_date, update_date, done_by`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password, display_name,
		                   verification_code, verification_code_expiry, done_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	row := r.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.Password, user.DisplayName,
		user.VerificationCode, user.VerificationCodeExpiry, user.DoneBy)

	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.findOne(ctx, query, username)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.findOne(ctx, query, email)
}

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR email = $1 LIMIT 1`
	return r.findOne(ctx, query, identifier)
}

// MarkVerified flips is_verified and clears the stored verification fields.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id int64) (*models.User, error) {
	query := `
		UPDATE users SET is_verified = true, verification_code = NULL,
		       verification_code_expiry = NULL, update_date = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return r.findOne(ctx, query, id)
}

func (r *PostgresRepository) SetVerificationCode(ctx context.Context, id int64, code string, expiry time.Time) error {
	query := `
		UPDATE users SET verification_code = $1, verification_code_expiry = $2,
		       update_date = NOW()
		WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, code, expiry, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) UpdateEmail(ctx context.Context, id int64, newEmail, doneBy string) (*models.User, error) {
	query := `
		UPDATE users SET email = $1, verification_code = NULL,
		       verification_code_expiry = NULL, done_by = $2, update_date = NOW()
		WHERE id = $3
		RETURNING ` + userColumns

	row := r.db.QueryRowContext(ctx, query, newEmail, doneBy, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, username string, displayName, profilePicture *string) (*models.User, error) {
	query := `
		UPDATE users SET display_name = COALESCE($1, display_name),
		       profile_picture = COALESCE($2, profile_picture),
		       done_by = $3, update_date = NOW()
		WHERE username = $3
		RETURNING ` + userColumns
	return r.findOne(ctx, query, displayName, profilePicture, username)
}

func (r *PostgresRepository) StampLastLogin(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

// FindBySocial matches by email or by the provider-specific id column.
// The column is chosen by an exhaustive switch, never from caller input.
func (r *PostgresRepository) FindBySocial(ctx context.Context, provider models.SocialProvider, socialID, email string) (*models.User, error) {
	var query string
	switch provider {
	case models.ProviderGoogle:
		query = `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR google_id = $2 LIMIT 1`
	case models.ProviderApple:
		query = `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR apple_id = $2 LIMIT 1`
	default:
		return nil, fmt.Errorf("unknown social provider %q", provider)
	}
	return r.findOne(ctx, query, email, socialID)
}

func (r *PostgresRepository) LinkSocial(ctx context.Context, id int64, provider models.SocialProvider, socialID string) error {
	var query string
	switch provider {
	case models.ProviderGoogle:
		query = `UPDATE users SET google_id = $1, update_date = NOW() WHERE id = $2`
	case models.ProviderApple:
		query = `UPDATE users SET apple_id = $1, update_date = NOW() WHERE id = $2`
	default:
		return fmt.Errorf("unknown social provider %q", provider)
	}
	res, err := r.db.ExecContext(ctx, query, socialID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

// CreateSocial inserts an already-verified user linked to the provider.
func (r *PostgresRepository) CreateSocial(ctx context.Context, provider models.SocialProvider, socialID, username, email string, picture *string) (*models.User, error) {
	var query string
	switch provider {
	case models.ProviderGoogle:
		query = `
			INSERT INTO users (username, email, google_id, is_verified, profile_picture)
			VALUES ($1, $2, $3, true, $4)
			RETURNING ` + userColumns
	case models.ProviderApple:
		query = `
			INSERT INTO users (username, email, apple_id, is_verified, profile_picture)
			VALUES ($1, $2, $3, true, $4)
			RETURNING ` + userColumns
	default:
		return nil, fmt.Errorf("unknown social provider %q", provider)
	}

	row := r.db.QueryRowContext(ctx, query, username, email, socialID, picture)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		u              models.User
		password       sql.NullString
		displayName    sql.NullString
		profilePicture sql.NullString
		code           sql.NullString
		codeExpiry     sql.NullTime
		googleID       sql.NullString
		appleID        sql.NullString
		lastLogin      sql.NullTime
	)

	err := row.Scan(&u.ID, &u.Username, &u.Email, &password, &displayName,
		&profilePicture, &u.IsActive, &u.IsVerified, &code, &codeExpiry,
		&googleID, &appleID, &lastLogin, &u.CreateDate, &u.UpdateDate, &u.DoneBy)
	if err != nil {
		return nil, err
	}

	u.Password = nullString(password)
	u.DisplayName = nullString(displayName)
	u.ProfilePicture = nullString(profilePicture)
	u.VerificationCode = nullString(code)
	u.VerificationCodeExpiry = nullTime(codeExpiry)
	u.GoogleID = nullString(googleID)
	u.AppleID = nullString(appleID)
	u.LastLogin = nullTime(lastLogin)

	return &u, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
