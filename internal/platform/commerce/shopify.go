package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

const DefaultShopifyAPIVersion = "2024-10"

type shopifyClient struct {
	log        *logger.Logger
	t          *transport
	apiVersion string
}

func NewShopifyClient(log *logger.Logger, apiVersion string, opts Options) Client {
	if log == nil {
		log = logger.Nop()
	}
	apiVersion = strings.TrimSpace(apiVersion)
	if apiVersion == "" {
		apiVersion = DefaultShopifyAPIVersion
	}
	l := log.With("client", "ShopifyClient")
	return &shopifyClient{log: l, t: newTransport(l, catalog.PlatformShopify, opts), apiVersion: apiVersion}
}

func (c *shopifyClient) Platform() catalog.Platform { return catalog.PlatformShopify }

func (c *shopifyClient) Fetch(ctx context.Context, conn *catalog.Connection, path string, params url.Values) ([]byte, string, error) {
	resp, err := c.send(ctx, conn, http.MethodGet, path, params, nil, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, nextPageToken(resp.Header.Get("Link")), nil
}

// ListProducts pages the REST products endpoint. Shopify rejects filters next
// to page_info, so continuation requests only carry limit and the cursor.
func (c *shopifyClient) ListProducts(ctx context.Context, conn *catalog.Connection, req PageRequest) (Page, error) {
	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if req.Token != "" {
		params.Set("page_info", req.Token)
	} else {
		params.Set("status", "active")
		if req.UpdatedSince != nil {
			params.Set("updated_at_min", req.UpdatedSince.UTC().Format("2006-01-02T15:04:05Z07:00"))
		}
	}
	body, next, err := c.Fetch(ctx, conn, "/products.json", params)
	if err != nil {
		return Page{}, err
	}
	var envelope struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, fmt.Errorf("shopify products page: decode: %w", err)
	}
	return Page{Items: envelope.Products, Next: next}, nil
}

func (c *shopifyClient) GetProduct(ctx context.Context, conn *catalog.Connection, externalID string) (json.RawMessage, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("shopify: external id required")
	}
	body, _, err := c.Fetch(ctx, conn, "/products/"+url.PathEscape(externalID)+".json", nil)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Product json.RawMessage `json:"product"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("shopify product %s: decode: %w", externalID, err)
	}
	if len(envelope.Product) == 0 || string(envelope.Product) == "null" {
		return nil, fmt.Errorf("shopify product %s: empty payload", externalID)
	}
	return envelope.Product, nil
}

func (c *shopifyClient) ShopCurrency(ctx context.Context, conn *catalog.Connection) (string, error) {
	body, _, err := c.Fetch(ctx, conn, "/shop.json", url.Values{"fields": []string{"currency"}})
	if err != nil {
		return "", err
	}
	var envelope struct {
		Shop struct {
			Currency string `json:"currency"`
		} `json:"shop"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("shopify shop: decode: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(envelope.Shop.Currency)), nil
}

const productSearchQuery = `query ProductSearch($first: Int!, $query: String!) {
  products(first: $first, query: $query) {
    edges {
      node {
        legacyResourceId
        title
        handle
        descriptionHtml
        vendor
        productType
        tags
        updatedAt
        onlineStoreUrl
        featuredImage { url }
        variants(first: 10) {
          edges { node { price sku inventoryQuantity } }
        }
      }
    }
  }
}`

// SearchProducts runs a single-shot GraphQL title search and returns each hit
// reshaped like a REST product so one normalizer serves both paths.
func (c *shopifyClient) SearchProducts(ctx context.Context, conn *catalog.Connection, query string, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 8
	}
	payload, err := json.Marshal(map[string]any{
		"query": productSearchQuery,
		"variables": map[string]any{
			"first": limit,
			"query": titleSearchQuery(query),
		},
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, conn, http.MethodPost, "/graphql.json", nil, payload, checkGraphQLErrors)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Data struct {
			Products struct {
				Edges []struct {
					Node graphQLProduct `json:"node"`
				} `json:"edges"`
			} `json:"products"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("shopify search: decode: %w", err)
	}
	out := make([]json.RawMessage, 0, len(envelope.Data.Products.Edges))
	for _, edge := range envelope.Data.Products.Edges {
		raw, err := json.Marshal(edge.Node.restShape())
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (c *shopifyClient) send(ctx context.Context, conn *catalog.Connection, method, path string, params url.Values, body []byte, check bodyCheck) (*response, error) {
	if conn == nil || conn.Integration == nil {
		return nil, fmt.Errorf("shopify: connection required")
	}
	if err := conn.Credentials.Validate(catalog.PlatformShopify); err != nil {
		return nil, err
	}
	endpoint := conn.BaseURL() + "/admin/api/" + c.apiVersion + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	build := func(ctx context.Context) (*http.Request, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Shopify-Access-Token", conn.Credentials.AccessToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
	return c.t.do(ctx, conn.Integration.StoreDomain, path, build, check)
}

// titleSearchQuery builds a Shopify search expression matching every word in the title.
func titleSearchQuery(q string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '*', ':', '(', ')':
			return ' '
		}
		return r
	}, q)
	words := strings.Fields(clean)
	if len(words) == 0 {
		return "status:active"
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, "title:*"+w+"*")
	}
	return strings.Join(parts, " AND ")
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// GraphQLError reports errors returned inside a 200 response. Throttling maps
// to 429 so the transport backs off and retries.
type GraphQLError struct {
	Messages  []string
	Throttled bool
}

func (e *GraphQLError) Error() string {
	return "shopify graphql: " + strings.Join(e.Messages, "; ")
}

func (e *GraphQLError) HTTPStatusCode() int {
	if e.Throttled {
		return http.StatusTooManyRequests
	}
	return http.StatusUnprocessableEntity
}

func checkGraphQLErrors(raw []byte) error {
	var envelope struct {
		Errors []graphQLError `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Errors) == 0 {
		return nil
	}
	out := &GraphQLError{}
	for _, e := range envelope.Errors {
		out.Messages = append(out.Messages, e.Message)
		if strings.EqualFold(e.Extensions.Code, "THROTTLED") {
			out.Throttled = true
		}
	}
	return out
}

type graphQLProduct struct {
	LegacyResourceID string   `json:"legacyResourceId"`
	Title            string   `json:"title"`
	Handle           string   `json:"handle"`
	DescriptionHTML  string   `json:"descriptionHtml"`
	Vendor           string   `json:"vendor"`
	ProductType      string   `json:"productType"`
	Tags             []string `json:"tags"`
	UpdatedAt        string   `json:"updatedAt"`
	OnlineStoreURL   *string  `json:"onlineStoreUrl"`
	FeaturedImage    *struct {
		URL string `json:"url"`
	} `json:"featuredImage"`
	Variants struct {
		Edges []struct {
			Node struct {
				Price             string `json:"price"`
				SKU               string `json:"sku"`
				InventoryQuantity *int   `json:"inventoryQuantity"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

func (p graphQLProduct) restShape() map[string]any {
	variants := make([]map[string]any, 0, len(p.Variants.Edges))
	for _, e := range p.Variants.Edges {
		v := map[string]any{"price": e.Node.Price, "sku": e.Node.SKU}
		if e.Node.InventoryQuantity != nil {
			v["inventory_quantity"] = *e.Node.InventoryQuantity
			v["inventory_management"] = "shopify"
		}
		variants = append(variants, v)
	}
	out := map[string]any{
		"id":           p.LegacyResourceID,
		"title":        p.Title,
		"handle":       p.Handle,
		"body_html":    p.DescriptionHTML,
		"vendor":       p.Vendor,
		"product_type": p.ProductType,
		"tags":         strings.Join(p.Tags, ", "),
		"updated_at":   p.UpdatedAt,
		"variants":     variants,
	}
	if p.OnlineStoreURL != nil {
		out["online_store_url"] = *p.OnlineStoreURL
	}
	if p.FeaturedImage != nil {
		out["image"] = map[string]any{"src": p.FeaturedImage.URL}
	}
	return out
}
