package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type TenantRepo = catalog.TenantRepo
type IntegrationRepo = catalog.IntegrationRepo
type ProductRepo = catalog.ProductRepo

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return catalog.NewTenantRepo(db, baseLog)
}
func NewIntegrationRepo(db *gorm.DB, baseLog *logger.Logger) IntegrationRepo {
	return catalog.NewIntegrationRepo(db, baseLog)
}
func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return catalog.NewProductRepo(db, baseLog)
}
