package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type TenantRepo interface {
	Create(dbc dbctx.Context, tenant *types.Tenant) error
	GetByPublicKey(dbc dbctx.Context, publicKey string) (*types.Tenant, error)
}

type tenantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return &tenantRepo{
		db:  db,
		log: baseLog.With("repo", "TenantRepo"),
	}
}

func (r *tenantRepo) Create(dbc dbctx.Context, tenant *types.Tenant) error {
	if tenant == nil {
		return nil
	}
	return dbc.Resolve(r.db).Create(tenant).Error
}

func (r *tenantRepo) GetByPublicKey(dbc dbctx.Context, publicKey string) (*types.Tenant, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return nil, fmt.Errorf("public key required: %w", apperrors.ErrInvalidArgument)
	}
	var tenant types.Tenant
	err := dbc.Resolve(r.db).
		Where("public_key = ?", publicKey).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tenant: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
