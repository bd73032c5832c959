package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type Repos struct {
	Tenant      repos.TenantRepo
	Integration repos.IntegrationRepo
	Product     repos.ProductRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Tenant:      repos.NewTenantRepo(db, log),
		Integration: repos.NewIntegrationRepo(db, log),
		Product:     repos.NewProductRepo(db, log),
	}
}
