package vectorindex

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	"github.com/yungbote/catalog-sync-backend/internal/data/repos/testutil"
	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
)

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	if got := Cosine(a, []float32{1, 0}, norm(a)); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors: %v", got)
	}
	if got := Cosine(a, []float32{0, 1}, norm(a)); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors: %v", got)
	}
	if got := Cosine(a, []float32{0, 0}, norm(a)); got != 0 {
		t.Fatalf("zero vector: %v", got)
	}
}

func TestStoreIndexQueryRanksAcrossPages(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tenant := testutil.SeedTenant(t, ctx, db)
	in := testutil.SeedIntegration(t, ctx, db, tenant.ID, catalog.PlatformWooCommerce, nil)
	other := testutil.SeedIntegration(t, ctx, db, tenant.ID, catalog.PlatformShopify, nil)

	testutil.SeedProduct(t, ctx, db, in.ID, "near", "Near", []float32{1, 0.1})
	testutil.SeedProduct(t, ctx, db, in.ID, "mid", "Mid", []float32{1, 1})
	testutil.SeedProduct(t, ctx, db, in.ID, "far", "Far", []float32{-1, 0})
	testutil.SeedProduct(t, ctx, db, in.ID, "bare", "Bare", nil)
	testutil.SeedProduct(t, ctx, db, in.ID, "wrongdim", "Wrong", []float32{1, 0, 0})
	testutil.SeedProduct(t, ctx, db, other.ID, "foreign", "Foreign", []float32{1, 0})

	idx := NewStoreIndex(log, repos.NewProductRepo(db, log))
	idx.pageSize = 2

	got, err := idx.Query(ctx, in.ID, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ExternalID != "near" || got[1].ExternalID != "mid" {
		t.Fatalf("unexpected ranking %+v", got)
	}
	if got[0].Score < got[1].Score {
		t.Fatalf("scores not descending: %+v", got)
	}

	none, err := idx.Query(ctx, uuid.New(), []float32{1, 0}, 5)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result for unknown integration, got %v %v", none, err)
	}
}

func TestStoreIndexRejectsEmptyVector(t *testing.T) {
	idx := NewStoreIndex(nil, nil)
	if _, err := idx.Query(context.Background(), uuid.New(), nil, 3); err == nil {
		t.Fatalf("expected error")
	}
}

type rowsScanner struct{ rows []*catalog.Product }

func (s rowsScanner) ScanEmbedded(_ dbctx.Context, _ uuid.UUID, after uuid.UUID, limit int) ([]*catalog.Product, error) {
	start := 0
	if after != uuid.Nil {
		for i, r := range s.rows {
			if r.ID == after {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(s.rows))
	return s.rows[start:end], nil
}

func TestStoreIndexTiesKeepSmallerID(t *testing.T) {
	var rows []*catalog.Product
	// equal scores scanned in descending id order
	for _, id := range []string{"d", "c", "b", "a"} {
		rows = append(rows, &catalog.Product{ID: uuid.New(), ExternalProductID: id, Embedding: []float32{1, 0}})
	}
	idx := NewStoreIndex(nil, rowsScanner{rows: rows})
	idx.pageSize = 3

	got, err := idx.Query(context.Background(), uuid.New(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ExternalID != "a" || got[1].ExternalID != "b" {
		t.Fatalf("tie order depends on scan order: %+v", got)
	}
}
