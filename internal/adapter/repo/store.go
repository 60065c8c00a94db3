// Package repo implements the domain repositories on PostgreSQL through the
// marker-checked SQL runner.
package repo

import (
	"context"
	"fmt"

	"mediaflow/internal/domain"
	"mediaflow/internal/infra"
	"mediaflow/internal/sqlinline"
)

// NewStore bundles the Postgres repositories. closer releases the pool.
func NewStore(sql infra.SQLExecutor, closer func()) domain.Store {
	return domain.Store{
		Accounts: NewAccountRepository(sql),
		Jobs:     NewJobRepository(sql),
		Assets:   NewAssetRepository(sql),
		Close: func() error {
			if closer != nil {
				closer()
			}
			return nil
		},
	}
}

// Migrate creates the tables and indexes when they do not exist yet.
func Migrate(ctx context.Context, sql infra.SQLExecutor) error {
	if _, err := sql.Exec(ctx, sqlinline.QSchema); err != nil {
		return fmt.Errorf("repo: migrate: %w", err)
	}
	return nil
}
