package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	"github.com/yungbote/catalog-sync-backend/internal/normalization"
	"github.com/yungbote/catalog-sync-backend/internal/observability"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/commerce"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
)

const (
	SourceVector    = "vector"
	SourceLive      = "live"
	SourceRefreshed = "refreshed"
)

type SearchOptions struct {
	RequireFreshness bool
	// TargetID is refreshed instead of the top candidate when set.
	TargetID string
	Limit    int
}

type SearchResult struct {
	ExternalID  string             `json:"external_id"`
	Name        string             `json:"name"`
	Price       *float64           `json:"price"`
	Currency    string             `json:"currency"`
	StockStatus *types.StockStatus `json:"stock_status"`
	Permalink   string             `json:"permalink"`
	ImageURL    string             `json:"image_url"`
	Score       *float64           `json:"score"`
	Source      string             `json:"source"`
}

type CatalogSearchConfig struct {
	DefaultLimit int
	MaxLimit     int
	Threshold    float64
	// StaleAfter disables the vector path when the last sync is older. Zero disables the check.
	StaleAfter time.Duration
}

func DefaultCatalogSearchConfig() CatalogSearchConfig {
	return CatalogSearchConfig{DefaultLimit: 8, MaxLimit: 8, Threshold: 0.2}
}

type CatalogSearchService interface {
	Search(ctx context.Context, conn *types.Connection, query string, opts SearchOptions) ([]SearchResult, error)
	SearchIntegration(ctx context.Context, integrationID uuid.UUID, query string, opts SearchOptions) ([]SearchResult, error)
	SearchByPublicKey(ctx context.Context, publicKey string, query string, opts SearchOptions) ([]SearchResult, error)
}

type catalogSearchService struct {
	log         *logger.Logger
	productRepo repos.ProductRepo
	resolver    CredentialResolver
	clients     commerce.Registry
	normalizer  *normalization.Normalizer
	embedder    Embedder
	index       vectorindex.Index
	syncs       CatalogSyncService
	cfg         CatalogSearchConfig
	now         func() time.Time
}

func NewCatalogSearchService(
	log *logger.Logger,
	productRepo repos.ProductRepo,
	resolver CredentialResolver,
	clients commerce.Registry,
	normalizer *normalization.Normalizer,
	embedder Embedder,
	index vectorindex.Index,
	syncs CatalogSyncService,
	cfg CatalogSearchConfig,
) CatalogSearchService {
	def := DefaultCatalogSearchConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if normalizer == nil {
		normalizer = normalization.New()
	}
	return &catalogSearchService{
		log:         log.With("service", "CatalogSearchService"),
		productRepo: productRepo,
		resolver:    resolver,
		clients:     clients,
		normalizer:  normalizer,
		embedder:    embedder,
		index:       index,
		syncs:       syncs,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *catalogSearchService) SearchIntegration(ctx context.Context, integrationID uuid.UUID, query string, opts SearchOptions) ([]SearchResult, error) {
	conn, err := s.resolver.Resolve(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, conn, query, opts)
}

func (s *catalogSearchService) SearchByPublicKey(ctx context.Context, publicKey string, query string, opts SearchOptions) ([]SearchResult, error) {
	conn, err := s.resolver.ResolveByPublicKey(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, conn, query, opts)
}

func (s *catalogSearchService) limit(requested int) int {
	if requested <= 0 {
		return s.cfg.DefaultLimit
	}
	return min(requested, s.cfg.MaxLimit)
}

func (s *catalogSearchService) Search(ctx context.Context, conn *types.Connection, query string, opts SearchOptions) (results []SearchResult, err error) {
	if conn == nil || conn.Integration == nil {
		return nil, fmt.Errorf("connection required: %w", apperrors.ErrInvalidArgument)
	}
	q := normalization.ParseQuery(query)
	if q == "" {
		return nil, fmt.Errorf("query required: %w", apperrors.ErrInvalidArgument)
	}
	in := conn.Integration
	limit := s.limit(opts.Limit)

	ctx, span := observability.Tracer().Start(ctx, "catalog.search",
		trace.WithAttributes(
			attribute.String("integration_id", in.ID.String()),
			attribute.Int("limit", limit),
			attribute.Bool("require_freshness", opts.RequireFreshness),
		))
	defer func() { observability.EndSpan(span, err) }()

	log := s.log.With("integration_id", in.ID)
	if s.vectorEligible(in) {
		results, err = s.vectorSearch(ctx, in, q, limit)
		if err != nil {
			log.Warn("Vector search failed; falling back to live search", "error", err)
			results = nil
		}
	}
	if len(results) > 0 {
		observability.Current().IncSearch(SourceVector)
		span.SetAttributes(attribute.String("search.path", SourceVector))
	} else {
		results, err = s.liveSearch(ctx, conn, q, limit)
		if err != nil {
			observability.Current().IncSearch("unavailable")
			return nil, fmt.Errorf("%w: %v", apperrors.ErrSearchUnavailable, err)
		}
		observability.Current().IncSearch(SourceLive)
		span.SetAttributes(attribute.String("search.path", SourceLive))
	}

	if opts.RequireFreshness {
		results = s.freshen(ctx, conn, results, strings.TrimSpace(opts.TargetID), limit)
	}
	return results, nil
}

func (s *catalogSearchService) vectorEligible(in *types.Integration) bool {
	if s.index == nil || in.ProductsIndexedCount <= 0 || in.LastSyncStatus != types.SyncStatusSuccess {
		return false
	}
	if s.cfg.StaleAfter > 0 {
		if in.LastSyncAt == nil || s.now().Sub(*in.LastSyncAt) > s.cfg.StaleAfter {
			return false
		}
	}
	return true
}

func (s *catalogSearchService) vectorSearch(ctx context.Context, in *types.Integration, q string, limit int) ([]SearchResult, error) {
	vec, err := s.embedder.EmbedOne(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.index.Query(ctx, in.ID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	ids := make([]string, 0, len(matches))
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		if m.Score < s.cfg.Threshold {
			continue
		}
		if _, dup := scores[m.ExternalID]; dup {
			continue
		}
		ids = append(ids, m.ExternalID)
		scores[m.ExternalID] = m.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.productRepo.GetByExternalIDs(dbctx.Context{Ctx: ctx}, in.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}
	out := make([]SearchResult, 0, len(rows))
	for _, p := range rows {
		score := scores[p.ExternalProductID]
		r := toSearchResult(p, SourceVector)
		r.Score = &score
		out = append(out, r)
	}
	return out, nil
}

func (s *catalogSearchService) liveSearch(ctx context.Context, conn *types.Connection, q string, limit int) ([]SearchResult, error) {
	client, err := s.clients.For(conn.Integration.Platform)
	if err != nil {
		return nil, err
	}
	items, err := client.SearchProducts(ctx, conn, q, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(items))
	for _, raw := range items {
		p, err := s.normalizer.Normalize(conn.Integration, raw)
		if err != nil {
			s.log.Warn("Skipping malformed live result", "integration_id", conn.Integration.ID, "error", err)
			continue
		}
		out = append(out, toSearchResult(p, SourceLive))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// freshen refreshes one product and splices it to the front. A product gone
// upstream is dropped; other failures keep the candidates unchanged.
func (s *catalogSearchService) freshen(ctx context.Context, conn *types.Connection, results []SearchResult, targetID string, limit int) []SearchResult {
	if s.syncs == nil {
		return results
	}
	if targetID == "" {
		if len(results) == 0 {
			return results
		}
		targetID = results[0].ExternalID
	}
	p, err := s.syncs.RefreshOne(ctx, conn, targetID)
	if errors.Is(err, apperrors.ErrProductGone) {
		s.log.Info("Dropping product gone upstream", "integration_id", conn.Integration.ID, "external_id", targetID)
		out := make([]SearchResult, 0, len(results))
		for _, r := range results {
			if r.ExternalID != targetID {
				out = append(out, r)
			}
		}
		return out
	}
	if err != nil {
		s.log.Warn("Freshness refresh failed; returning candidates", "integration_id", conn.Integration.ID, "external_id", targetID, "error", err)
		return results
	}
	fresh := toSearchResult(p, SourceRefreshed)
	out := make([]SearchResult, 0, len(results)+1)
	out = append(out, fresh)
	for _, r := range results {
		if r.ExternalID == fresh.ExternalID {
			if fresh.Score == nil {
				out[0].Score = r.Score
			}
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func toSearchResult(p *types.Product, source string) SearchResult {
	return SearchResult{
		ExternalID:  p.ExternalProductID,
		Name:        p.Name,
		Price:       p.Price,
		Currency:    p.Currency,
		StockStatus: p.StockStatus,
		Permalink:   p.Permalink,
		ImageURL:    p.ImageURL,
		Source:      source,
	}
}
