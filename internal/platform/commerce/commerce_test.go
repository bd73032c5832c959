package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
)

func testOptions() Options {
	return Options{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}
}

func wooConn(baseURL string) *catalog.Connection {
	return &catalog.Connection{
		Integration: &catalog.Integration{Platform: catalog.PlatformWooCommerce, StoreDomain: baseURL},
		Credentials: catalog.Credentials{ConsumerKey: "ck_1", ConsumerSecret: "cs_1"},
	}
}

func shopifyConn(baseURL string) *catalog.Connection {
	return &catalog.Connection{
		Integration: &catalog.Integration{Platform: catalog.PlatformShopify, StoreDomain: baseURL},
		Credentials: catalog.Credentials{AccessToken: "shpat_1"},
	}
}

func TestRetryBoundOnPersistent503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	c := NewWooCommerceClient(nil, testOptions())
	_, err := c.ListProducts(context.Background(), wooConn(srv.URL), PageRequest{})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 HTTPError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected retries+1=3 attempts, got %d", got)
	}
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{401, 403, 404, 422} {
		status := status
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(strings.Repeat("e", 2000)))
			}))
			defer srv.Close()

			c := NewShopifyClient(nil, "", testOptions())
			_, err := c.GetProduct(context.Background(), shopifyConn(srv.URL), "99")
			var he *HTTPError
			if !errors.As(err, &he) || he.StatusCode != status {
				t.Fatalf("expected %d, got %v", status, err)
			}
			if len(he.Body) > maxErrorBodyBytes+3 {
				t.Fatalf("body not truncated: %d bytes", len(he.Body))
			}
			if got := atomic.LoadInt32(&calls); got != 1 {
				t.Fatalf("expected one attempt, got %d", got)
			}
			if status == 404 && !IsNotFound(err) {
				t.Fatalf("IsNotFound should be true")
			}
		})
	}
}

func TestRetryAfterThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":"woocommerce_currency","value":"eur"}`))
	}))
	defer srv.Close()

	c := NewWooCommerceClient(nil, testOptions())
	cur, err := c.ShopCurrency(context.Background(), wooConn(srv.URL))
	if err != nil {
		t.Fatalf("ShopCurrency: %v", err)
	}
	if cur != "EUR" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("cur=%q calls=%d", cur, calls)
	}
}

func TestWooCommercePagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wc/v3/products" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "ck_1" || p != "cs_1" {
			t.Errorf("missing basic auth")
		}
		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/wp-json/wc/v3/products?page=2&per_page=2>; rel="next"`, r.Host))
			_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/wp-json/wc/v3/products?page=1&per_page=2>; rel="prev"`, r.Host))
			_, _ = w.Write([]byte(`[{"id":3}]`))
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))
	defer srv.Close()

	c := NewWooCommerceClient(nil, testOptions())
	conn := wooConn(srv.URL)
	first, err := c.ListProducts(context.Background(), conn, PageRequest{Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Items) != 2 || first.Next != "2" {
		t.Fatalf("page 1: items=%d next=%q", len(first.Items), first.Next)
	}
	second, err := c.ListProducts(context.Background(), conn, PageRequest{Limit: 2, Token: first.Next})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second.Items) != 1 || second.Next != "" {
		t.Fatalf("page 2: items=%d next=%q", len(second.Items), second.Next)
	}
}

func TestShopifyPageInfoAndSearch(t *testing.T) {
	var graphqlCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Shopify-Access-Token") != "shpat_1" {
			t.Errorf("missing access token header")
		}
		switch r.URL.Path {
		case "/admin/api/2024-10/products.json":
			q := r.URL.Query()
			if q.Get("page_info") != "" && q.Get("status") != "" {
				t.Errorf("filters must not accompany page_info")
			}
			if q.Get("page_info") == "" {
				w.Header().Set("Link", fmt.Sprintf(`<https://%s/admin/api/2024-10/products.json?limit=250&page_info=abc123>; rel="next"`, r.Host))
				_, _ = w.Write([]byte(`{"products":[{"id":10},{"id":11}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"products":[]}`))
		case "/admin/api/2024-10/graphql.json":
			var body struct {
				Variables struct {
					First int    `json:"first"`
					Query string `json:"query"`
				} `json:"variables"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Variables.Query != "title:*blue* AND title:*mug*" || body.Variables.First != 3 {
				t.Errorf("unexpected variables %+v", body.Variables)
			}
			if atomic.AddInt32(&graphqlCalls, 1) == 1 {
				_, _ = w.Write([]byte(`{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":{"products":{"edges":[{"node":{
				"legacyResourceId":"555","title":"Blue Mug","handle":"blue-mug",
				"featuredImage":{"url":"https://cdn/img.png"},
				"variants":{"edges":[{"node":{"price":"9.50","sku":"BM-1","inventoryQuantity":4}}]}
			}}]}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewShopifyClient(nil, "", testOptions())
	conn := shopifyConn(srv.URL)

	page, err := c.ListProducts(context.Background(), conn, PageRequest{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 2 || page.Next != "abc123" {
		t.Fatalf("items=%d next=%q", len(page.Items), page.Next)
	}
	page, err = c.ListProducts(context.Background(), conn, PageRequest{Token: page.Next})
	if err != nil || len(page.Items) != 0 || page.Next != "" {
		t.Fatalf("continuation: err=%v items=%d next=%q", err, len(page.Items), page.Next)
	}

	hits, err := c.SearchProducts(context.Background(), conn, `blue "mug"`, 3)
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if atomic.LoadInt32(&graphqlCalls) != 2 {
		t.Fatalf("expected throttled call to be retried")
	}
	if len(hits) != 1 {
		t.Fatalf("hits=%d", len(hits))
	}
	var shaped map[string]any
	_ = json.Unmarshal(hits[0], &shaped)
	if shaped["id"] != "555" || shaped["title"] != "Blue Mug" {
		t.Fatalf("unexpected reshaped hit: %v", shaped)
	}
}

func TestNextPageToken(t *testing.T) {
	cases := map[string]string{
		`<https://s/products.json?page_info=xyz&limit=5>; rel="next"`:                                        "xyz",
		`<https://s/p?page=1>; rel="prev", <https://s/p?page=3>; rel="next"`:                                 "3",
		`<https://s/p?page=1>; rel="prev"`:                                                                   "",
		``:                                                                                                   "",
		`<https://s/products.json?page_info=a>; rel="previous", <https://s/products.json?page_info=b>; rel=next`: "b",
	}
	for header, want := range cases {
		if got := nextPageToken(header); got != want {
			t.Fatalf("nextPageToken(%q)=%q want %q", header, got, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewWooCommerceClient(nil, testOptions()), NewShopifyClient(nil, "", testOptions()))
	if c, err := r.For(catalog.PlatformShopify); err != nil || c.Platform() != catalog.PlatformShopify {
		t.Fatalf("For(shopify): %v", err)
	}
	if _, err := r.For(catalog.Platform("magento")); err == nil {
		t.Fatalf("expected unknown platform error")
	}
}
