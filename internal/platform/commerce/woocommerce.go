package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

const wooRESTRoot = "/wp-json/wc/v3"

type wooCommerceClient struct {
	log *logger.Logger
	t   *transport
}

func NewWooCommerceClient(log *logger.Logger, opts Options) Client {
	if log == nil {
		log = logger.Nop()
	}
	l := log.With("client", "WooCommerceClient")
	return &wooCommerceClient{log: l, t: newTransport(l, catalog.PlatformWooCommerce, opts)}
}

func (c *wooCommerceClient) Platform() catalog.Platform { return catalog.PlatformWooCommerce }

func (c *wooCommerceClient) Fetch(ctx context.Context, conn *catalog.Connection, path string, params url.Values) ([]byte, string, error) {
	resp, err := c.get(ctx, conn, path, params)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, nextPageToken(resp.Header.Get("Link")), nil
}

func (c *wooCommerceClient) ListProducts(ctx context.Context, conn *catalog.Connection, req PageRequest) (Page, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	page := req.Token
	if page == "" {
		page = "1"
	}
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("page", page)
	params.Set("status", "publish")
	params.Set("orderby", "id")
	params.Set("order", "asc")
	if req.UpdatedSince != nil {
		params.Set("modified_after", req.UpdatedSince.UTC().Format("2006-01-02T15:04:05"))
		params.Set("dates_are_gmt", "true")
	}

	body, next, err := c.Fetch(ctx, conn, "/products", params)
	if err != nil {
		return Page{}, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Page{}, fmt.Errorf("woocommerce products page %s: decode: %w", page, err)
	}
	if next == page {
		next = ""
	}
	return Page{Items: items, Next: next}, nil
}

func (c *wooCommerceClient) GetProduct(ctx context.Context, conn *catalog.Connection, externalID string) (json.RawMessage, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("woocommerce: external id required")
	}
	resp, err := c.get(ctx, conn, "/products/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

func (c *wooCommerceClient) SearchProducts(ctx context.Context, conn *catalog.Connection, query string, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 8
	}
	params := url.Values{}
	params.Set("search", strings.TrimSpace(query))
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("status", "publish")
	body, _, err := c.Fetch(ctx, conn, "/products", params)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("woocommerce search: decode: %w", err)
	}
	return items, nil
}

func (c *wooCommerceClient) ShopCurrency(ctx context.Context, conn *catalog.Connection) (string, error) {
	resp, err := c.get(ctx, conn, "/settings/general/woocommerce_currency", nil)
	if err != nil {
		return "", err
	}
	var setting struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(resp.Body, &setting); err != nil {
		return "", fmt.Errorf("woocommerce currency: decode: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(setting.Value)), nil
}

func (c *wooCommerceClient) get(ctx context.Context, conn *catalog.Connection, path string, params url.Values) (*response, error) {
	if conn == nil || conn.Integration == nil {
		return nil, fmt.Errorf("woocommerce: connection required")
	}
	if err := conn.Credentials.Validate(catalog.PlatformWooCommerce); err != nil {
		return nil, err
	}
	endpoint := conn.BaseURL() + wooRESTRoot + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(conn.Credentials.ConsumerKey, conn.Credentials.ConsumerSecret)
		return req, nil
	}
	return c.t.do(ctx, conn.Integration.StoreDomain, path, build, nil)
}
