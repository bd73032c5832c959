package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/observability"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/qdrant"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
)

var newQdrantVectorStore = func(ctx context.Context, log *logger.Logger, cfg qdrant.Config) (vectorindex.Index, error) {
	vs, err := qdrant.NewVectorStore(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	return vs, nil
}

// resolveVectorIndex picks the nearest-neighbour backend. The store index
// scans vectors already persisted on product rows; qdrant mirrors them.
func resolveVectorIndex(ctx context.Context, log *logger.Logger, cfg Config, scanner vectorindex.EmbeddingScanner) (vectorindex.Index, error) {
	switch cfg.Vector.Provider {
	case VectorProviderQdrant:
		log.Info(
			"Selecting vector index provider",
			"provider", VectorProviderQdrant,
			"qdrant_url", cfg.Qdrant.URL,
			"qdrant_collection", cfg.Qdrant.Collection,
			"qdrant_vector_dim", cfg.Qdrant.VectorDim,
		)
		idx, err := newQdrantVectorStore(ctx, log, cfg.Qdrant)
		if err != nil {
			log.Error("Vector index bootstrap failed", "provider", VectorProviderQdrant, "error", err)
			return nil, fmt.Errorf("vector index %s: %w", VectorProviderQdrant, err)
		}
		return instrumentIndex(VectorProviderQdrant, idx), nil
	case VectorProviderStore, "":
		log.Info("Selecting vector index provider", "provider", VectorProviderStore)
		return instrumentIndex(VectorProviderStore, vectorindex.NewStoreIndex(log, scanner)), nil
	default:
		return nil, fmt.Errorf("unsupported vector provider %q", cfg.Vector.Provider)
	}
}

type instrumentedIndex struct {
	provider string
	inner    vectorindex.Index
	metrics  *observability.Metrics
}

func instrumentIndex(provider string, inner vectorindex.Index) vectorindex.Index {
	if inner == nil {
		return nil
	}
	return &instrumentedIndex{provider: provider, inner: inner, metrics: observability.Current()}
}

func (i *instrumentedIndex) Upsert(ctx context.Context, integrationID uuid.UUID, points []vectorindex.Point) error {
	start := time.Now()
	err := i.inner.Upsert(ctx, integrationID, points)
	i.observe("upsert", err, time.Since(start))
	return err
}

func (i *instrumentedIndex) Query(ctx context.Context, integrationID uuid.UUID, vec []float32, topK int) ([]vectorindex.Match, error) {
	start := time.Now()
	out, err := i.inner.Query(ctx, integrationID, vec, topK)
	i.observe("query", err, time.Since(start))
	return out, err
}

func (i *instrumentedIndex) Delete(ctx context.Context, integrationID uuid.UUID, externalIDs []string) error {
	start := time.Now()
	err := i.inner.Delete(ctx, integrationID, externalIDs)
	i.observe("delete", err, time.Since(start))
	return err
}

func (i *instrumentedIndex) observe(operation string, err error, dur time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	i.metrics.ObserveVectorOp(i.provider, operation, status, dur)
}
