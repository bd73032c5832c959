package vectorindex

import (
	"context"

	"github.com/google/uuid"
)

// Point is one product vector keyed by its upstream id.
type Point struct {
	ExternalID string
	Vector     []float32
}

// Match is a query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ExternalID string
	Score      float64
}

// Index answers nearest-neighbour queries scoped to one integration.
type Index interface {
	Upsert(ctx context.Context, integrationID uuid.UUID, points []Point) error
	Query(ctx context.Context, integrationID uuid.UUID, vec []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, integrationID uuid.UUID, externalIDs []string) error
}
