package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	"github.com/yungbote/catalog-sync-backend/internal/data/repos/testutil"
	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	"github.com/yungbote/catalog-sync-backend/internal/normalization"
	"github.com/yungbote/catalog-sync-backend/internal/platform/commerce"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/embedding"
	"github.com/yungbote/catalog-sync-backend/internal/platform/secretbox"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
)

const testEncryptionKey = "test-credentials-passphrase"

// fakeShop is an in-memory upstream store. Pages are addressed by index
// tokens "p1", "p2", ...
type fakeShop struct {
	mu sync.Mutex

	platform types.Platform
	pages    [][]json.RawMessage
	products map[string]json.RawMessage
	search   []json.RawMessage
	currency string

	listErr   error
	getErr    error
	searchErr error
	onList    func(call int)

	listCalls   int
	getCalls    int
	searchCalls int
	requests    []commerce.PageRequest
}

func newFakeShop(platform types.Platform) *fakeShop {
	return &fakeShop{platform: platform, products: map[string]json.RawMessage{}, currency: "USD"}
}

func (f *fakeShop) Platform() types.Platform { return f.platform }

func (f *fakeShop) Fetch(ctx context.Context, conn *types.Connection, path string, params url.Values) ([]byte, string, error) {
	return nil, "", fmt.Errorf("fetch not supported")
}

func (f *fakeShop) ListProducts(ctx context.Context, conn *types.Connection, req commerce.PageRequest) (commerce.Page, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	f.requests = append(f.requests, req)
	hook := f.onList
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if f.listErr != nil {
		return commerce.Page{}, f.listErr
	}
	idx := 0
	if req.Token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(req.Token, "p"))
		if err != nil {
			return commerce.Page{}, fmt.Errorf("bad token %q", req.Token)
		}
		idx = n
	}
	if idx >= len(f.pages) {
		return commerce.Page{}, nil
	}
	page := commerce.Page{Items: f.pages[idx]}
	if idx+1 < len(f.pages) {
		page.Next = "p" + strconv.Itoa(idx+1)
	}
	return page, nil
}

func (f *fakeShop) GetProduct(ctx context.Context, conn *types.Connection, externalID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	raw, ok := f.products[externalID]
	if !ok {
		return nil, &commerce.HTTPError{Platform: f.platform, Method: "GET", Path: "/products/" + externalID, StatusCode: 404}
	}
	return raw, nil
}

func (f *fakeShop) SearchProducts(ctx context.Context, conn *types.Connection, query string, limit int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.search) > limit {
		return f.search[:limit], nil
	}
	return f.search, nil
}

func (f *fakeShop) ShopCurrency(ctx context.Context, conn *types.Connection) (string, error) {
	return f.currency, nil
}

// keywordProvider embeds text as keyword counts so similarity is predictable.
type keywordProvider struct {
	mu       sync.Mutex
	calls    int
	inputs   int
	failCall int
}

var keywordDims = []string{"red", "shoe", "mug", "lamp"}

func keywordVec(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(keywordDims)+1)
	for i, kw := range keywordDims {
		vec[i] = float32(strings.Count(lower, kw))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(lower))
	vec[len(keywordDims)] = 0.01 + float32(h.Sum32()%7)/1000
	return vec
}

func (p *keywordProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.inputs += len(inputs)
	p.mu.Unlock()
	if p.failCall > 0 && call == p.failCall {
		return nil, fmt.Errorf("provider unavailable")
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = keywordVec(in)
	}
	return out, nil
}

func (p *keywordProvider) Model() string { return "keyword-test" }

func (p *keywordProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingIndex records index traffic and optionally answers queries.
type recordingIndex struct {
	mu       sync.Mutex
	upserts  int
	deletes  []string
	queries  int
	matches  []vectorindex.Match
	queryErr error
}

func (r *recordingIndex) Upsert(ctx context.Context, integrationID uuid.UUID, points []vectorindex.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts += len(points)
	return nil
}

func (r *recordingIndex) Query(ctx context.Context, integrationID uuid.UUID, vec []float32, topK int) ([]vectorindex.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	return r.matches, nil
}

func (r *recordingIndex) Delete(ctx context.Context, integrationID uuid.UUID, externalIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, externalIDs...)
	return nil
}

type catalogEnv struct {
	ctx          context.Context
	db           *gorm.DB
	box          *secretbox.Box
	tenant       *types.Tenant
	integration  *types.Integration
	integrations repos.IntegrationRepo
	products     repos.ProductRepo
	resolver     CredentialResolver
	shop         *fakeShop
	provider     *keywordProvider
	embedder     *embedding.Client
	index        *recordingIndex
	sync         CatalogSyncService
}

func newCatalogEnv(t *testing.T, platform types.Platform, mutate func(*types.Integration)) *catalogEnv {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	box, err := secretbox.FromSecret(testEncryptionKey)
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}
	creds := `{"consumer_key":"ck_test","consumer_secret":"cs_test"}`
	if platform == types.PlatformShopify {
		creds = `{"access_token":"shpat_test"}`
	}
	sealed, err := box.Encrypt([]byte(creds))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tenant := testutil.SeedTenant(t, ctx, db)
	integ := testutil.SeedIntegration(t, ctx, db, tenant.ID, platform, func(in *types.Integration) {
		in.EncryptedCredentials = sealed
		if mutate != nil {
			mutate(in)
		}
	})

	env := &catalogEnv{
		ctx:          ctx,
		db:           db,
		box:          box,
		tenant:       tenant,
		integration:  integ,
		integrations: repos.NewIntegrationRepo(db, log),
		products:     repos.NewProductRepo(db, log),
		shop:         newFakeShop(platform),
		provider:     &keywordProvider{},
		index:        &recordingIndex{},
	}
	env.resolver = NewCredentialResolver(log, repos.NewTenantRepo(db, log), env.integrations, box)
	env.embedder = embedding.NewClient(log, env.provider, embedding.NewCache(embedding.DefaultCacheSize))
	env.sync = NewCatalogSyncService(log, env.integrations, env.products, env.resolver,
		commerce.NewRegistry(env.shop), normalization.New(), env.embedder, env.index, DefaultCatalogSyncConfig())
	return env
}

func (e *catalogEnv) reload(t *testing.T) *types.Integration {
	t.Helper()
	in, err := e.integrations.GetByID(dbctx.Context{Ctx: e.ctx}, e.integration.ID)
	if err != nil {
		t.Fatalf("reload integration: %v", err)
	}
	return in
}

func (e *catalogEnv) count(t *testing.T) int64 {
	t.Helper()
	n, err := e.products.CountByIntegration(dbctx.Context{Ctx: e.ctx}, e.integration.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func wooItem(id int, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%d,"name":%q,"price":"10.00","stock_status":"instock","permalink":"https://shop.example.com/p/%d","date_modified_gmt":"2024-01-01T00:00:00"}`,
		id, name, id,
	))
}

func wooPage(start, n int) []json.RawMessage {
	out := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, wooItem(start+i, fmt.Sprintf("Item %d", start+i)))
	}
	return out
}
