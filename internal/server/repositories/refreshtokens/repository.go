package refreshtokens

import (
	"context"

	"github.com/yamazhen/soma-server/internal/server/models"
)

// Repository is the durable store for refresh-token grants. Find returns
// common.ErrNotFound when the token does not exist.
type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	Delete(ctx context.Context, token string) error
	// DeleteAllForUser revokes every grant the user holds and reports how
	// many rows were removed.
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}
