package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
)

func SeedTenant(tb testing.TB, ctx context.Context, db *gorm.DB) *types.Tenant {
	tb.Helper()
	t := &types.Tenant{
		ID:        uuid.New(),
		Name:      "tenant",
		PublicKey: "pk_" + uuid.NewString(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return t
}

// SeedIntegration inserts an active integration. mutate may adjust fields before insert.
func SeedIntegration(tb testing.TB, ctx context.Context, db *gorm.DB, tenantID uuid.UUID, platform types.Platform, mutate func(*types.Integration)) *types.Integration {
	tb.Helper()
	in := &types.Integration{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Platform:       platform,
		StoreDomain:    "shop.example.com",
		WebhookToken:   "hook-token",
		IsActive:       true,
		LastSyncStatus: types.SyncStatusNone,
	}
	if mutate != nil {
		mutate(in)
	}
	if err := db.WithContext(ctx).Create(in).Error; err != nil {
		tb.Fatalf("seed integration: %v", err)
	}
	return in
}

func SeedProduct(tb testing.TB, ctx context.Context, db *gorm.DB, integrationID uuid.UUID, externalID string, name string, embedding []float32) *types.Product {
	tb.Helper()
	p := &types.Product{
		ID:                uuid.New(),
		IntegrationID:     integrationID,
		ExternalProductID: externalID,
		Name:              name,
		Embedding:         embedding,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed product: %v", err)
	}
	return p
}

func PtrFloat(v float64) *float64 { return &v }
