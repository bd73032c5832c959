package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos/testutil"
	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
)

func TestProductRepoUpsertIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	tenant := testutil.SeedTenant(t, ctx, db)
	integ := testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformWooCommerce, nil)

	repo := NewProductRepo(db, testutil.Logger(t))

	row := func(name string, price float64) *types.Product {
		return &types.Product{
			IntegrationID:     integ.ID,
			ExternalProductID: "42",
			Name:              name,
			Price:             testutil.PtrFloat(price),
			Embedding:         types.Embedding{0.1, 0.2},
		}
	}

	for i := 0; i < 3; i++ {
		if err := repo.UpsertBatch(dbc, []*types.Product{row("Blue Mug", 12.5)}); err != nil {
			t.Fatalf("UpsertBatch #%d: %v", i, err)
		}
	}
	n, err := repo.CountByIntegration(dbc, integ.ID)
	if err != nil {
		t.Fatalf("CountByIntegration: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one row, got %d", n)
	}

	// Last writer wins.
	got, err := repo.Upsert(dbc, row("Blue Mug XL", 15))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.Name != "Blue Mug XL" || got.Price == nil || *got.Price != 15 {
		t.Fatalf("unexpected row after upsert: name=%q price=%v", got.Name, got.Price)
	}
	if len(got.Embedding) != 2 {
		t.Fatalf("embedding not persisted: %v", got.Embedding)
	}
	if n, _ := repo.CountByIntegration(dbc, integ.ID); n != 1 {
		t.Fatalf("expected one row after upsert, got %d", n)
	}
}

func TestProductRepoUpsertBatchIsAtomic(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	tenant := testutil.SeedTenant(t, ctx, db)
	integ := testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformShopify, nil)
	repo := NewProductRepo(db, testutil.Logger(t))

	rows := []*types.Product{
		{IntegrationID: integ.ID, ExternalProductID: "1", Name: "ok"},
		{IntegrationID: integ.ID, ExternalProductID: "2", Name: ""},
	}
	err := repo.UpsertBatch(dbc, rows)
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if n, _ := repo.CountByIntegration(dbc, integ.ID); n != 0 {
		t.Fatalf("expected no rows written, got %d", n)
	}
}

func TestProductRepoDeleteIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	tenant := testutil.SeedTenant(t, ctx, db)
	integ := testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformShopify, nil)
	testutil.SeedProduct(t, ctx, db, integ.ID, "7", "Lamp", nil)
	repo := NewProductRepo(db, testutil.Logger(t))

	deleted, err := repo.DeleteByExternalID(dbc, integ.ID, "7")
	if err != nil || !deleted {
		t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = repo.DeleteByExternalID(dbc, integ.ID, "7")
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := repo.GetByExternalID(dbc, integ.ID, "7"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProductRepoLookupsAndScan(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	tenant := testutil.SeedTenant(t, ctx, db)
	integ := testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformWooCommerce, nil)
	other := testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformShopify, nil)
	repo := NewProductRepo(db, testutil.Logger(t))

	testutil.SeedProduct(t, ctx, db, integ.ID, "a", "A", []float32{1, 0})
	testutil.SeedProduct(t, ctx, db, integ.ID, "b", "B", nil)
	testutil.SeedProduct(t, ctx, db, integ.ID, "c", "C", []float32{0, 1})
	testutil.SeedProduct(t, ctx, db, other.ID, "a", "Other A", []float32{1, 1})

	rows, err := repo.GetByExternalIDs(dbc, integ.ID, []string{"c", "missing", "a"})
	if err != nil {
		t.Fatalf("GetByExternalIDs: %v", err)
	}
	if len(rows) != 2 || rows[0].ExternalProductID != "c" || rows[1].ExternalProductID != "a" {
		t.Fatalf("unexpected order: %+v", rows)
	}

	var seen []string
	after := uuid.Nil
	for {
		page, err := repo.ScanEmbedded(dbc, integ.ID, after, 1)
		if err != nil {
			t.Fatalf("ScanEmbedded: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			if len(p.Embedding) == 0 {
				t.Fatalf("scan returned row without embedding: %s", p.ExternalProductID)
			}
			seen = append(seen, p.ExternalProductID)
		}
		after = page[len(page)-1].ID
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 embedded rows, got %v", seen)
	}
}

func TestIntegrationRepoSyncStatus(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	tenant := testutil.SeedTenant(t, ctx, db)
	integ := testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformWooCommerce, nil)
	testutil.SeedIntegration(t, ctx, db, tenant.ID, types.PlatformShopify, func(in *types.Integration) {
		in.IsActive = false
	})
	repo := NewIntegrationRepo(db, testutil.Logger(t))

	started := time.Now().UTC().Truncate(time.Second)
	if err := repo.MarkSyncRunning(dbc, integ.ID, started); err != nil {
		t.Fatalf("MarkSyncRunning: %v", err)
	}
	got, err := repo.GetByID(dbc, integ.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastSyncStatus != types.SyncStatusRunning || got.LastSyncAt == nil {
		t.Fatalf("expected running with timestamp, got %+v", got)
	}

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	if err := repo.MarkSyncFailed(dbc, integ.ID, string(long)); err != nil {
		t.Fatalf("MarkSyncFailed: %v", err)
	}
	got, _ = repo.GetByID(dbc, integ.ID)
	if got.LastSyncStatus != types.SyncStatusFailed || len(got.LastSyncError) != types.MaxSyncErrorLen {
		t.Fatalf("expected truncated failure, status=%s len=%d", got.LastSyncStatus, len(got.LastSyncError))
	}

	if err := repo.MarkSyncSucceeded(dbc, integ.ID, 237, started); err != nil {
		t.Fatalf("MarkSyncSucceeded: %v", err)
	}
	got, _ = repo.GetByID(dbc, integ.ID)
	if !got.Searchable() || got.ProductsIndexedCount != 237 || got.LastSyncError != "" || got.LastSyncSuccessAt == nil {
		t.Fatalf("unexpected success state: %+v", got)
	}

	active, err := repo.ListActive(dbc)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	for _, a := range active {
		if !a.IsActive {
			t.Fatalf("inactive integration listed: %s", a.ID)
		}
	}
	byTenant, err := repo.GetActiveByTenant(dbc, tenant.ID)
	if err != nil || byTenant.ID != integ.ID {
		t.Fatalf("GetActiveByTenant: %v %+v", err, byTenant)
	}

	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTenantRepoGetByPublicKey(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	tenant := testutil.SeedTenant(t, ctx, db)
	repo := NewTenantRepo(db, testutil.Logger(t))

	got, err := repo.GetByPublicKey(dbc, tenant.PublicKey)
	if err != nil || got.ID != tenant.ID {
		t.Fatalf("GetByPublicKey: %v", err)
	}
	if _, err := repo.GetByPublicKey(dbc, "pk_unknown"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.GetByPublicKey(dbc, " "); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
