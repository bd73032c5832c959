package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

const defaultScanPage = 500

// EmbeddingScanner pages through embedded product rows of one integration.
type EmbeddingScanner interface {
	ScanEmbedded(dbc dbctx.Context, integrationID uuid.UUID, afterID uuid.UUID, limit int) ([]*catalog.Product, error)
}

// StoreIndex ranks products by scanning vectors persisted in the catalog
// store. The store row is the source of truth so Upsert and Delete are no-ops.
type StoreIndex struct {
	log      *logger.Logger
	scanner  EmbeddingScanner
	pageSize int
}

func NewStoreIndex(log *logger.Logger, scanner EmbeddingScanner) *StoreIndex {
	if log == nil {
		log = logger.Nop()
	}
	return &StoreIndex{
		log:      log.With("index", "StoreIndex"),
		scanner:  scanner,
		pageSize: defaultScanPage,
	}
}

func (s *StoreIndex) Upsert(context.Context, uuid.UUID, []Point) error { return nil }

func (s *StoreIndex) Delete(context.Context, uuid.UUID, []string) error { return nil }

func (s *StoreIndex) Query(ctx context.Context, integrationID uuid.UUID, vec []float32, topK int) ([]Match, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	qnorm := norm(vec)
	if qnorm == 0 {
		return nil, fmt.Errorf("query vector has zero norm")
	}

	h := &matchHeap{}
	after := uuid.Nil
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := s.scanner.ScanEmbedded(dbctx.Context{Ctx: ctx}, integrationID, after, s.pageSize)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if len(r.Embedding) != len(vec) {
				skipped++
				continue
			}
			m := Match{ExternalID: r.ExternalProductID, Score: Cosine(vec, r.Embedding, qnorm)}
			if h.Len() < topK {
				heap.Push(h, m)
			} else if worse((*h)[0], m) {
				(*h)[0] = m
				heap.Fix(h, 0)
			}
		}
		if len(rows) < s.pageSize {
			break
		}
		after = rows[len(rows)-1].ID
	}
	if skipped > 0 {
		s.log.Warn("Skipped rows with mismatched embedding dimension",
			"integration_id", integrationID,
			"skipped", skipped,
			"dim", len(vec),
		)
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b. qnorm is the precomputed
// norm of a.
func Cosine(a, b []float32, qnorm float64) float64 {
	var dot, bb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if bb == 0 || qnorm == 0 {
		return 0
	}
	return dot / (qnorm * math.Sqrt(bb))
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// worse orders matches by score, then by id: on equal scores the lexically
// larger id ranks lower.
func worse(a, b Match) bool {
	if a.Score == b.Score {
		return a.ExternalID > b.ExternalID
	}
	return a.Score < b.Score
}

// matchHeap is a min-heap under worse, so the root is the weakest kept match.
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h matchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)   { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
