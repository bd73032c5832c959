package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type IntegrationRepo interface {
	Create(dbc dbctx.Context, integration *types.Integration) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Integration, error)
	GetActiveByTenant(dbc dbctx.Context, tenantID uuid.UUID) (*types.Integration, error)
	ListActive(dbc dbctx.Context) ([]*types.Integration, error)
	MarkSyncRunning(dbc dbctx.Context, id uuid.UUID, startedAt time.Time) error
	MarkSyncSucceeded(dbc dbctx.Context, id uuid.UUID, indexed int64, startedAt time.Time) error
	MarkSyncFailed(dbc dbctx.Context, id uuid.UUID, message string) error
	SetCurrency(dbc dbctx.Context, id uuid.UUID, currency string) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type integrationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIntegrationRepo(db *gorm.DB, baseLog *logger.Logger) IntegrationRepo {
	return &integrationRepo{
		db:  db,
		log: baseLog.With("repo", "IntegrationRepo"),
	}
}

func (r *integrationRepo) Create(dbc dbctx.Context, integration *types.Integration) error {
	if integration == nil {
		return nil
	}
	if !integration.Platform.Valid() {
		return fmt.Errorf("platform %q: %w", integration.Platform, apperrors.ErrInvalidArgument)
	}
	return dbc.Resolve(r.db).Create(integration).Error
}

func (r *integrationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Integration, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("integration id required: %w", apperrors.ErrInvalidArgument)
	}
	var out types.Integration
	err := dbc.Resolve(r.db).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("integration %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActiveByTenant returns the most recently updated active integration of a tenant.
func (r *integrationRepo) GetActiveByTenant(dbc dbctx.Context, tenantID uuid.UUID) (*types.Integration, error) {
	var out types.Integration
	err := dbc.Resolve(r.db).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("updated_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active integration for tenant: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *integrationRepo) ListActive(dbc dbctx.Context) ([]*types.Integration, error) {
	var out []*types.Integration
	if err := dbc.Resolve(r.db).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *integrationRepo) MarkSyncRunning(dbc dbctx.Context, id uuid.UUID, startedAt time.Time) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"last_sync_status": types.SyncStatusRunning,
		"last_sync_error":  "",
		"last_sync_at":     startedAt,
	})
}

func (r *integrationRepo) MarkSyncSucceeded(dbc dbctx.Context, id uuid.UUID, indexed int64, startedAt time.Time) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"last_sync_status":       types.SyncStatusSuccess,
		"last_sync_error":        "",
		"products_indexed_count": indexed,
		"last_sync_success_at":   startedAt,
	})
}

func (r *integrationRepo) MarkSyncFailed(dbc dbctx.Context, id uuid.UUID, message string) error {
	if runes := []rune(message); len(runes) > types.MaxSyncErrorLen {
		message = string(runes[:types.MaxSyncErrorLen])
	}
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"last_sync_status": types.SyncStatusFailed,
		"last_sync_error":  message,
	})
}

func (r *integrationRepo) SetCurrency(dbc dbctx.Context, id uuid.UUID, currency string) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"currency": currency})
}

func (r *integrationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.Resolve(r.db).
		Model(&types.Integration{}).
		Where("id = ?", id).
		Updates(updates).Error
}
