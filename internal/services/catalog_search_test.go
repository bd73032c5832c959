package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	"github.com/yungbote/catalog-sync-backend/internal/normalization"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/commerce"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
)

func (e *catalogEnv) search(index vectorindex.Index, cfg CatalogSearchConfig) CatalogSearchService {
	return NewCatalogSearchService(logger.Nop(), e.products, e.resolver, commerce.NewRegistry(e.shop),
		normalization.New(), e.embedder, index, e.sync, cfg)
}

func (e *catalogEnv) conn(t *testing.T) *types.Connection {
	t.Helper()
	conn, err := e.resolver.Resolve(e.ctx, e.integration.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return conn
}

func syncedCatalog(t *testing.T) *catalogEnv {
	t.Helper()
	env := newCatalogEnv(t, types.PlatformWooCommerce, nil)
	env.shop.pages = [][]json.RawMessage{{
		wooItem(1, "Red shoe"),
		wooItem(2, "Blue mug"),
		wooItem(3, "Desk lamp"),
	}}
	if _, err := env.sync.FullSync(env.ctx, env.integration.ID, SyncOptions{}); err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	return env
}

func TestSearchNeverQueriesIndexBeforeFirstSync(t *testing.T) {
	env := newCatalogEnv(t, types.PlatformWooCommerce, nil)
	env.shop.search = []json.RawMessage{wooItem(8, "Red shoe"), json.RawMessage(`{"bad":true}`)}

	results, err := env.search(env.index, CatalogSearchConfig{}).Search(env.ctx, env.conn(t), "red shoe", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if env.index.queries != 0 {
		t.Fatalf("index queried %d times with nothing indexed", env.index.queries)
	}
	if len(results) != 1 || results[0].Source != SourceLive || results[0].Score != nil {
		t.Fatalf("results=%+v", results)
	}
}

func TestSearchVectorPathRanksByScore(t *testing.T) {
	env := syncedCatalog(t)
	svc := env.search(vectorindex.NewStoreIndex(logger.Nop(), env.products), CatalogSearchConfig{})

	results, err := svc.Search(env.ctx, env.conn(t), "  red   shoe ", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the matching product above threshold, got %+v", results)
	}
	r := results[0]
	if r.ExternalID != "1" || r.Source != SourceVector || r.Score == nil || *r.Score < 0.2 {
		t.Fatalf("result=%+v", r)
	}
	if r.Currency != "USD" || r.Price == nil || *r.Price != 10 {
		t.Fatalf("price=%v currency=%q", r.Price, r.Currency)
	}
	if env.shop.searchCalls != 0 {
		t.Fatalf("live search used despite vector hits")
	}
}

func TestSearchFallsBackToLiveWhenIndexFails(t *testing.T) {
	env := syncedCatalog(t)
	env.index.queryErr = errors.New("index down")
	env.shop.search = []json.RawMessage{wooItem(2, "Blue mug")}

	results, err := env.search(env.index, CatalogSearchConfig{}).Search(env.ctx, env.conn(t), "mug", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if env.index.queries != 1 || env.shop.searchCalls != 1 {
		t.Fatalf("queries=%d live=%d", env.index.queries, env.shop.searchCalls)
	}
	if len(results) != 1 || results[0].Source != SourceLive {
		t.Fatalf("results=%+v", results)
	}
}

func TestSearchUnavailableWhenBothPathsFail(t *testing.T) {
	env := syncedCatalog(t)
	env.index.queryErr = errors.New("index down")
	env.shop.searchErr = &commerce.HTTPError{Platform: types.PlatformWooCommerce, StatusCode: 503, Body: "maintenance"}

	_, err := env.search(env.index, CatalogSearchConfig{}).Search(env.ctx, env.conn(t), "mug", SearchOptions{})
	if !errors.Is(err, apperrors.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearchSkipsStaleIndex(t *testing.T) {
	env := syncedCatalog(t)
	env.shop.search = []json.RawMessage{wooItem(1, "Red shoe")}
	svc := env.search(env.index, CatalogSearchConfig{StaleAfter: time.Hour}).(*catalogSearchService)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	results, err := svc.Search(env.ctx, env.conn(t), "red shoe", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if env.index.queries != 0 || len(results) != 1 || results[0].Source != SourceLive {
		t.Fatalf("queries=%d results=%+v", env.index.queries, results)
	}
}

func TestSearchFreshnessSplicesTargetToFront(t *testing.T) {
	env := syncedCatalog(t)
	env.shop.products["1"] = wooItem(1, "Red shoe")
	env.shop.products["2"] = wooItem(2, "Blue mug restocked")
	env.index.matches = []vectorindex.Match{{ExternalID: "1", Score: 0.9}, {ExternalID: "2", Score: 0.5}, {ExternalID: "3", Score: 0.3}}
	svc := env.search(env.index, CatalogSearchConfig{DefaultLimit: 2, MaxLimit: 2})

	results, err := svc.Search(env.ctx, env.conn(t), "anything", SearchOptions{RequireFreshness: true, TargetID: "2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results=%+v", results)
	}
	if results[0].ExternalID != "2" || results[0].Source != SourceRefreshed || results[0].Name != "Blue mug restocked" {
		t.Fatalf("front=%+v", results[0])
	}
	if results[0].Score == nil || *results[0].Score != 0.5 {
		t.Fatalf("refreshed result should keep its score: %v", results[0].Score)
	}
	if results[1].ExternalID != "1" {
		t.Fatalf("second=%+v", results[1])
	}
}

func TestSearchFreshnessFailureReturnsCandidates(t *testing.T) {
	env := syncedCatalog(t)
	env.shop.getErr = &commerce.HTTPError{Platform: types.PlatformWooCommerce, Method: "GET", Path: "/products/1", StatusCode: 503}
	env.index.matches = []vectorindex.Match{{ExternalID: "1", Score: 0.9}}

	results, err := env.search(env.index, CatalogSearchConfig{}).Search(env.ctx, env.conn(t), "red shoe", SearchOptions{RequireFreshness: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Source != SourceVector {
		t.Fatalf("results=%+v", results)
	}
}

func TestSearchFreshnessDropsProductGoneUpstream(t *testing.T) {
	env := syncedCatalog(t)
	// "1" is no longer in the upstream catalog
	env.shop.products["2"] = wooItem(2, "Blue mug")
	env.index.matches = []vectorindex.Match{{ExternalID: "1", Score: 0.9}, {ExternalID: "2", Score: 0.5}}

	results, err := env.search(env.index, CatalogSearchConfig{}).Search(env.ctx, env.conn(t), "red shoe", SearchOptions{RequireFreshness: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != "2" {
		t.Fatalf("gone product still offered: %+v", results)
	}
}

func TestSearchLimitIsCapped(t *testing.T) {
	env := newCatalogEnv(t, types.PlatformWooCommerce, nil)
	for i := 0; i < 12; i++ {
		env.shop.search = append(env.shop.search, wooItem(100+i, fmt.Sprintf("Lamp %d", i)))
	}
	svc := env.search(nil, CatalogSearchConfig{})
	results, err := svc.Search(env.ctx, env.conn(t), "lamp", SearchOptions{Limit: 50})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected cap of 8, got %d", len(results))
	}
	if _, err := svc.Search(env.ctx, env.conn(t), "   ", SearchOptions{}); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("empty query: %v", err)
	}
}

func TestSearchByPublicKey(t *testing.T) {
	env := newCatalogEnv(t, types.PlatformWooCommerce, nil)
	env.shop.search = []json.RawMessage{wooItem(1, "Red shoe")}
	results, err := env.search(nil, CatalogSearchConfig{}).SearchByPublicKey(env.ctx, env.tenant.PublicKey, "shoe", SearchOptions{})
	if err != nil || len(results) != 1 {
		t.Fatalf("results=%+v err=%v", results, err)
	}
	if _, err := env.search(nil, CatalogSearchConfig{}).SearchByPublicKey(env.ctx, "pk_missing", "shoe", SearchOptions{}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown key: %v", err)
	}
}
