package repomanager

import (
	"context"
	"database/sql"

	"github.com/yamazhen/soma-server/internal/dbx"
	"github.com/yamazhen/soma-server/internal/server/repositories/refreshtokens"
	"github.com/yamazhen/soma-server/internal/server/repositories/trusteddevices"
	"github.com/yamazhen/soma-server/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	TrustedDevices(db dbx.DBTX) trusteddevices.Repository
}
