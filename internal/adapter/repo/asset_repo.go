package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"mediaflow/internal/domain"
	"mediaflow/internal/infra"
	"mediaflow/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetRepository.
type AssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAssetRepository constructs a repository for media assets.
func NewAssetRepository(sql infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{sql: sql}
}

func (r *AssetRepositoryPG) Create(ctx context.Context, asset *domain.Asset) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertAsset,
		asset.ID,
		asset.AccountID,
		string(asset.Kind),
		asset.Filename,
		asset.MIME,
		asset.SizeBytes,
		asset.DurationSeconds,
		asset.StorageKey,
		string(asset.Status),
		asset.CreatedAt,
		asset.ExpiresAt,
	)
	return err
}

func (r *AssetRepositoryPG) Get(ctx context.Context, id string) (*domain.Asset, error) {
	asset, err := scanAsset(r.sql.QueryRow(ctx, sqlinline.QSelectAsset, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return asset, nil
}

func (r *AssetRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateAssetStatus, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AssetRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteAsset, id)
	return err
}

func (r *AssetRepositoryPG) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Asset, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListExpiredAssets, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var (
		asset  domain.Asset
		kind   string
		status string
	)
	if err := row.Scan(
		&asset.ID,
		&asset.AccountID,
		&kind,
		&asset.Filename,
		&asset.MIME,
		&asset.SizeBytes,
		&asset.DurationSeconds,
		&asset.StorageKey,
		&status,
		&asset.CreatedAt,
		&asset.ExpiresAt,
	); err != nil {
		return nil, err
	}
	asset.Kind = domain.AssetKind(kind)
	asset.Status = domain.AssetStatus(status)
	return &asset, nil
}
