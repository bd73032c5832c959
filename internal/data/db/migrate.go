package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Tenant{},
		&types.Integration{},
		&types.Product{},
	)
}

// EnsurePostgresConstraints adds the cascades AutoMigrate skips when FK
// creation is disabled. Products go away with their integration.
func EnsurePostgresConstraints(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{
			name: "fk_integration_tenant",
			sql: `
				DO $$ BEGIN
					ALTER TABLE integration
					ADD CONSTRAINT fk_integration_tenant
					FOREIGN KEY (tenant_id) REFERENCES tenant(id) ON DELETE CASCADE;
				EXCEPTION WHEN duplicate_object THEN NULL;
				END $$;`,
		},
		{
			name: "fk_product_integration",
			sql: `
				DO $$ BEGIN
					ALTER TABLE product
					ADD CONSTRAINT fk_product_integration
					FOREIGN KEY (integration_id) REFERENCES integration(id) ON DELETE CASCADE;
				EXCEPTION WHEN duplicate_object THEN NULL;
				END $$;`,
		},
		{
			name: "idx_product_embedded",
			sql:  `CREATE INDEX IF NOT EXISTS idx_product_embedded ON product(integration_id) WHERE embedding IS NOT NULL;`,
		},
	}
	for _, st := range stmts {
		if err := db.Exec(st.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}
