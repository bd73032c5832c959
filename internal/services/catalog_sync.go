package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

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

// Embedder is the embedding capability the catalog services depend on.
type Embedder interface {
	CheckConfigured() error
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type SyncOptions struct {
	// Incremental limits the run to items changed since the last successful sync.
	Incremental bool
}

type SyncResult struct {
	IntegrationID uuid.UUID `json:"integration_id"`
	Indexed       int64     `json:"indexed"`
	Synced        int       `json:"synced"`
	Skipped       int       `json:"skipped"`
	Pages         int       `json:"pages"`
	Currency      string    `json:"currency"`
	Incremental   bool      `json:"incremental"`
}

type CatalogSyncConfig struct {
	WooCommercePageSize int
	ShopifyPageSize     int
	EmbedBatchSize      int
}

func DefaultCatalogSyncConfig() CatalogSyncConfig {
	return CatalogSyncConfig{WooCommercePageSize: 100, ShopifyPageSize: 250, EmbedBatchSize: 50}
}

type CatalogSyncService interface {
	FullSync(ctx context.Context, integrationID uuid.UUID, opts SyncOptions) (*SyncResult, error)
	// RefreshOne re-fetches one product and upserts it. An upstream 404 removes
	// the local row and returns ErrProductGone.
	RefreshOne(ctx context.Context, conn *types.Connection, externalID string) (*types.Product, error)
	// RemoveOne deletes a product row and its indexed vector. Absent rows are not an error.
	RemoveOne(ctx context.Context, integrationID uuid.UUID, externalID string) (bool, error)
}

type catalogSyncService struct {
	log             *logger.Logger
	integrationRepo repos.IntegrationRepo
	productRepo     repos.ProductRepo
	resolver        CredentialResolver
	clients         commerce.Registry
	normalizer      *normalization.Normalizer
	embedder        Embedder
	index           vectorindex.Index
	cfg             CatalogSyncConfig
	refreshes       singleflight.Group
}

func NewCatalogSyncService(
	log *logger.Logger,
	integrationRepo repos.IntegrationRepo,
	productRepo repos.ProductRepo,
	resolver CredentialResolver,
	clients commerce.Registry,
	normalizer *normalization.Normalizer,
	embedder Embedder,
	index vectorindex.Index,
	cfg CatalogSyncConfig,
) CatalogSyncService {
	def := DefaultCatalogSyncConfig()
	if cfg.WooCommercePageSize <= 0 {
		cfg.WooCommercePageSize = def.WooCommercePageSize
	}
	if cfg.ShopifyPageSize <= 0 {
		cfg.ShopifyPageSize = def.ShopifyPageSize
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = def.EmbedBatchSize
	}
	if normalizer == nil {
		normalizer = normalization.New()
	}
	return &catalogSyncService{
		log:             log.With("service", "CatalogSyncService"),
		integrationRepo: integrationRepo,
		productRepo:     productRepo,
		resolver:        resolver,
		clients:         clients,
		normalizer:      normalizer,
		embedder:        embedder,
		index:           index,
		cfg:             cfg,
	}
}

func (s *catalogSyncService) pageSize(p types.Platform) int {
	if p == types.PlatformShopify {
		return s.cfg.ShopifyPageSize
	}
	return s.cfg.WooCommercePageSize
}

func (s *catalogSyncService) FullSync(ctx context.Context, integrationID uuid.UUID, opts SyncOptions) (res *SyncResult, err error) {
	ctx, span := observability.Tracer().Start(ctx, "catalog.full_sync",
		trace.WithAttributes(
			attribute.String("integration_id", integrationID.String()),
			attribute.Bool("incremental", opts.Incremental),
		))
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now().UTC()
	dbc := dbctx.Context{Ctx: ctx}
	in, err := s.integrationRepo.GetByID(dbc, integrationID)
	if err != nil {
		return nil, err
	}
	log := s.log.With("integration_id", in.ID, "platform", in.Platform)
	mode := "full"
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
		}
		observability.Current().ObserveSync(string(in.Platform), mode, status, time.Since(started))
	}()

	conn, err := s.resolver.ResolveIntegration(ctx, in)
	if err != nil {
		s.recordFailure(ctx, in.ID, err)
		return nil, err
	}
	if err = s.embedder.CheckConfigured(); err != nil {
		s.recordFailure(ctx, in.ID, err)
		return nil, err
	}
	client, err := s.clients.For(in.Platform)
	if err != nil {
		s.recordFailure(ctx, in.ID, err)
		return nil, err
	}

	if err = s.integrationRepo.MarkSyncRunning(dbc, in.ID, started); err != nil {
		return nil, fmt.Errorf("mark sync running: %w", err)
	}

	res = &SyncResult{IntegrationID: in.ID}
	if in.Currency == "" {
		if cur, cerr := client.ShopCurrency(ctx, conn); cerr != nil {
			log.Warn("Shop currency lookup failed; continuing without currency", "error", cerr)
		} else if cur != "" {
			in.Currency = cur
			if serr := s.integrationRepo.SetCurrency(dbc, in.ID, cur); serr != nil {
				log.Warn("Persisting shop currency failed", "error", serr)
			}
		}
	}
	res.Currency = in.Currency

	var since *time.Time
	if opts.Incremental && in.LastSyncSuccessAt != nil {
		since = in.LastSyncSuccessAt
		res.Incremental = true
		mode = "incremental"
	}

	log.Info("Catalog sync started", "incremental", res.Incremental)
	token := ""
	for {
		if err = ctx.Err(); err != nil {
			err = fmt.Errorf("sync cancelled after %d pages: %w", res.Pages, err)
			s.recordFailure(ctx, in.ID, err)
			return nil, err
		}
		var page commerce.Page
		page, err = client.ListProducts(ctx, conn, commerce.PageRequest{
			Token:        token,
			Limit:        s.pageSize(in.Platform),
			UpdatedSince: since,
		})
		if err != nil {
			err = fmt.Errorf("fetch page %d: %w", res.Pages+1, err)
			s.recordFailure(ctx, in.ID, err)
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}
		res.Pages++
		var written, skipped int
		written, skipped, err = s.syncPage(ctx, in, page.Items)
		if err != nil {
			err = fmt.Errorf("page %d: %w", res.Pages, err)
			s.recordFailure(ctx, in.ID, err)
			return nil, err
		}
		res.Synced += written
		res.Skipped += skipped
		log.Debug("Catalog page synced", "page", res.Pages, "written", written, "skipped", skipped)
		if page.Next == "" {
			break
		}
		token = page.Next
	}

	indexed, err := s.productRepo.CountByIntegration(dbc, in.ID)
	if err != nil {
		err = fmt.Errorf("count products: %w", err)
		s.recordFailure(ctx, in.ID, err)
		return nil, err
	}
	if err = s.integrationRepo.MarkSyncSucceeded(dbc, in.ID, indexed, started); err != nil {
		return nil, fmt.Errorf("mark sync succeeded: %w", err)
	}
	res.Indexed = indexed
	observability.Current().AddProducts(string(in.Platform), "sync", res.Synced)
	log.Info("Catalog sync finished",
		"pages", res.Pages,
		"synced", res.Synced,
		"skipped", res.Skipped,
		"indexed", res.Indexed,
		"duration", time.Since(started).String(),
	)
	return res, nil
}

// syncPage normalizes, embeds and persists one page. Every embedding chunk
// must succeed before anything is written.
func (s *catalogSyncService) syncPage(ctx context.Context, in *types.Integration, items []json.RawMessage) (int, int, error) {
	ctx, span := observability.Tracer().Start(ctx, "catalog.sync_page", trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	rows := make([]*types.Product, 0, len(items))
	pos := map[string]int{}
	skipped := 0
	for _, raw := range items {
		p, err := s.normalizer.Normalize(in, raw)
		if err != nil {
			skipped++
			s.log.Warn("Skipping malformed upstream item", "integration_id", in.ID, "error", err)
			continue
		}
		// Later duplicates within a page win, keeping the first position.
		if i, ok := pos[p.ExternalProductID]; ok {
			rows[i] = p
			continue
		}
		pos[p.ExternalProductID] = len(rows)
		rows = append(rows, p)
	}
	if len(rows) == 0 {
		return 0, skipped, nil
	}

	texts := make([]string, len(rows))
	for i, p := range rows {
		texts[i] = s.normalizer.EmbeddingText(p)
	}
	vecs := make([][]float32, 0, len(rows))
	for start := 0; start < len(texts); start += s.cfg.EmbedBatchSize {
		end := min(start+s.cfg.EmbedBatchSize, len(texts))
		chunk, err := s.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			observability.Current().AddEmbedded("failed", end-start)
			span.RecordError(err)
			return 0, skipped, fmt.Errorf("embed items %d-%d: %w", start, end-1, err)
		}
		vecs = append(vecs, chunk...)
	}
	observability.Current().AddEmbedded("ok", len(texts))

	model := s.embedder.Model()
	points := make([]vectorindex.Point, len(rows))
	for i, p := range rows {
		p.Embedding = vecs[i]
		p.EmbeddingModel = model
		points[i] = vectorindex.Point{ExternalID: p.ExternalProductID, Vector: vecs[i]}
	}
	if err := s.productRepo.UpsertBatch(dbctx.Context{Ctx: ctx}, rows); err != nil {
		span.RecordError(err)
		return 0, skipped, fmt.Errorf("upsert %d products: %w", len(rows), err)
	}
	s.mirror(ctx, in.ID, points)
	return len(rows), skipped, nil
}

// mirror copies vectors into an external index. The store stays the source
// of truth, so failures are logged only.
func (s *catalogSyncService) mirror(ctx context.Context, integrationID uuid.UUID, points []vectorindex.Point) {
	if s.index == nil || len(points) == 0 {
		return
	}
	if err := s.index.Upsert(ctx, integrationID, points); err != nil {
		s.log.Warn("Vector index upsert failed", "integration_id", integrationID, "points", len(points), "error", err)
	}
}

// recordFailure stores the failure even when ctx is already cancelled.
func (s *catalogSyncService) recordFailure(ctx context.Context, integrationID uuid.UUID, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.integrationRepo.MarkSyncFailed(dbctx.Context{Ctx: wctx}, integrationID, cause.Error()); err != nil {
		s.log.Error("Recording sync failure failed", "integration_id", integrationID, "cause", cause, "error", err)
		return
	}
	s.log.Warn("Catalog sync failed", "integration_id", integrationID, "error", cause)
}

func (s *catalogSyncService) RefreshOne(ctx context.Context, conn *types.Connection, externalID string) (*types.Product, error) {
	if conn == nil || conn.Integration == nil {
		return nil, fmt.Errorf("connection required: %w", apperrors.ErrInvalidArgument)
	}
	if externalID == "" {
		return nil, fmt.Errorf("external id required: %w", apperrors.ErrInvalidArgument)
	}
	key := conn.Integration.ID.String() + "|" + externalID
	v, err, shared := s.refreshes.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, conn, externalID)
	})
	if shared {
		s.log.Debug("Refresh collapsed with in-flight call", "integration_id", conn.Integration.ID, "external_id", externalID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*types.Product), nil
}

func (s *catalogSyncService) refresh(ctx context.Context, conn *types.Connection, externalID string) (p *types.Product, err error) {
	in := conn.Integration
	ctx, span := observability.Tracer().Start(ctx, "catalog.refresh_one",
		trace.WithAttributes(
			attribute.String("integration_id", in.ID.String()),
			attribute.String("external_id", externalID),
		))
	defer func() { observability.EndSpan(span, err) }()

	client, err := s.clients.For(in.Platform)
	if err != nil {
		return nil, err
	}
	raw, err := client.GetProduct(ctx, conn, externalID)
	if commerce.IsNotFound(err) {
		if _, derr := s.RemoveOne(ctx, in.ID, externalID); derr != nil {
			return nil, fmt.Errorf("remove vanished product %s: %w", externalID, derr)
		}
		return nil, fmt.Errorf("product %s: %w", externalID, apperrors.ErrProductGone)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch product %s: %w", externalID, err)
	}
	row, err := s.normalizer.Normalize(in, raw)
	if err != nil {
		return nil, fmt.Errorf("normalize product %s: %w", externalID, err)
	}
	vec, err := s.embedder.EmbedOne(ctx, s.normalizer.EmbeddingText(row))
	if err != nil {
		return nil, fmt.Errorf("embed product %s: %w", externalID, err)
	}
	row.Embedding = vec
	row.EmbeddingModel = s.embedder.Model()

	saved, err := s.productRepo.Upsert(dbctx.Context{Ctx: ctx}, row)
	if err != nil {
		return nil, fmt.Errorf("upsert product %s: %w", externalID, err)
	}
	s.mirror(ctx, in.ID, []vectorindex.Point{{ExternalID: saved.ExternalProductID, Vector: vec}})
	observability.Current().AddProducts(string(in.Platform), "refresh", 1)
	return saved, nil
}

func (s *catalogSyncService) RemoveOne(ctx context.Context, integrationID uuid.UUID, externalID string) (bool, error) {
	deleted, err := s.productRepo.DeleteByExternalID(dbctx.Context{Ctx: ctx}, integrationID, externalID)
	if err != nil {
		return false, err
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, integrationID, []string{externalID}); err != nil {
			s.log.Warn("Vector index delete failed", "integration_id", integrationID, "external_id", externalID, "error", err)
		}
	}
	return deleted, nil
}

// IsSyncConflict reports whether err means another sync holds the integration.
func IsSyncConflict(err error) bool { return errors.Is(err, apperrors.ErrSyncInProgress) }
