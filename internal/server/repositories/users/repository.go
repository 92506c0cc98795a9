package users

import (
	"context"
	"time"

	"github.com/yamazhen/soma-server/internal/server/models"
)

// Repository is the durable store for identity records. Lookup methods
// return common.ErrNotFound when no row matches; Create and CreateSocial
// return common.ErrConflict on a username/email uniqueness violation.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// FindByIdentifier matches username or email with a single parameter.
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	MarkVerified(ctx context.Context, id int64) (*models.User, error)
	SetVerificationCode(ctx context.Context, id int64, code string, expiry time.Time) error
	UpdateEmail(ctx context.Context, id int64, newEmail, doneBy string) (*models.User, error)
	UpdateProfile(ctx context.Context, username string, displayName, profilePicture *string) (*models.User, error)
	StampLastLogin(ctx context.Context, id int64) error
	FindBySocial(ctx context.Context, provider models.SocialProvider, socialID, email string) (*models.User, error)
	LinkSocial(ctx context.Context, id int64, provider models.SocialProvider, socialID string) error
	CreateSocial(ctx context.Context, provider models.SocialProvider, socialID, username, email string, picture *string) (*models.User, error)
}
