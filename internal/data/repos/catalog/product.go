package catalog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type ProductRepo interface {
	UpsertBatch(dbc dbctx.Context, rows []*types.Product) error
	Upsert(dbc dbctx.Context, row *types.Product) (*types.Product, error)
	DeleteByExternalID(dbc dbctx.Context, integrationID uuid.UUID, externalID string) (bool, error)
	CountByIntegration(dbc dbctx.Context, integrationID uuid.UUID) (int64, error)
	GetByExternalID(dbc dbctx.Context, integrationID uuid.UUID, externalID string) (*types.Product, error)
	GetByExternalIDs(dbc dbctx.Context, integrationID uuid.UUID, externalIDs []string) ([]*types.Product, error)
	ScanEmbedded(dbc dbctx.Context, integrationID uuid.UUID, afterID uuid.UUID, limit int) ([]*types.Product, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

// upsertColumns are overwritten on conflict. Identity columns and created_at are kept.
var upsertColumns = []string{
	"name",
	"handle",
	"permalink",
	"price",
	"currency",
	"sku",
	"stock_status",
	"stock_quantity",
	"vendor",
	"categories",
	"tags",
	"description",
	"image_url",
	"raw_payload",
	"updated_at_remote",
	"embedding",
	"embedding_model",
	"updated_at",
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{
			{Name: "integration_id"},
			{Name: "external_product_id"},
		},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}
}

// UpsertBatch writes all rows in one transaction, in slice order. Either every
// row lands or none do.
func (r *productRepo) UpsertBatch(dbc dbctx.Context, rows []*types.Product) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if err := validateRow(row); err != nil {
			return err
		}
	}
	return dbc.Resolve(r.db).Transaction(func(txx *gorm.DB) error {
		return txx.Clauses(upsertClause()).CreateInBatches(rows, 100).Error
	})
}

func (r *productRepo) Upsert(dbc dbctx.Context, row *types.Product) (*types.Product, error) {
	if err := validateRow(row); err != nil {
		return nil, err
	}
	if err := dbc.Resolve(r.db).Clauses(upsertClause()).Create(row).Error; err != nil {
		return nil, err
	}
	return r.GetByExternalID(dbc, row.IntegrationID, row.ExternalProductID)
}

// DeleteByExternalID reports whether a row was removed. A missing row is not an error.
func (r *productRepo) DeleteByExternalID(dbc dbctx.Context, integrationID uuid.UUID, externalID string) (bool, error) {
	if integrationID == uuid.Nil || externalID == "" {
		return false, fmt.Errorf("integration id and external id required: %w", apperrors.ErrInvalidArgument)
	}
	res := dbc.Resolve(r.db).
		Where("integration_id = ? AND external_product_id = ?", integrationID, externalID).
		Delete(&types.Product{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *productRepo) CountByIntegration(dbc dbctx.Context, integrationID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.Resolve(r.db).
		Model(&types.Product{}).
		Where("integration_id = ?", integrationID).
		Count(&n).Error
	return n, err
}

func (r *productRepo) GetByExternalID(dbc dbctx.Context, integrationID uuid.UUID, externalID string) (*types.Product, error) {
	var out types.Product
	err := dbc.Resolve(r.db).
		Where("integration_id = ? AND external_product_id = ?", integrationID, externalID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", externalID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByExternalIDs returns rows in the order of externalIDs, skipping ids with no row.
func (r *productRepo) GetByExternalIDs(dbc dbctx.Context, integrationID uuid.UUID, externalIDs []string) ([]*types.Product, error) {
	if len(externalIDs) == 0 {
		return []*types.Product{}, nil
	}
	var rows []*types.Product
	if err := dbc.Resolve(r.db).
		Where("integration_id = ? AND external_product_id IN ?", integrationID, externalIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Product, len(rows))
	for _, row := range rows {
		byID[row.ExternalProductID] = row
	}
	out := make([]*types.Product, 0, len(rows))
	for _, id := range externalIDs {
		if row, ok := byID[id]; ok {
			out = append(out, row)
			delete(byID, id)
		}
	}
	return out, nil
}

// ScanEmbedded pages through rows that carry an embedding, keyed by primary key.
// Only the columns needed for similarity scoring are loaded.
func (r *productRepo) ScanEmbedded(dbc dbctx.Context, integrationID uuid.UUID, afterID uuid.UUID, limit int) ([]*types.Product, error) {
	if limit <= 0 {
		limit = 500
	}
	q := dbc.Resolve(r.db).
		Select("id", "integration_id", "external_product_id", "embedding").
		Where("integration_id = ? AND embedding IS NOT NULL", integrationID)
	if afterID != uuid.Nil {
		q = q.Where("id > ?", afterID)
	}
	var out []*types.Product
	if err := q.Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func validateRow(row *types.Product) error {
	if row == nil {
		return fmt.Errorf("nil product: %w", apperrors.ErrInvalidArgument)
	}
	if row.IntegrationID == uuid.Nil || row.ExternalProductID == "" {
		return fmt.Errorf("product requires integration_id and external_product_id: %w", apperrors.ErrInvalidArgument)
	}
	if row.Name == "" {
		return fmt.Errorf("product %s has no name: %w", row.ExternalProductID, apperrors.ErrInvalidArgument)
	}
	return nil
}
