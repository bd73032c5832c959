package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/platform/httpx"
)

// Client is the upstream catalog capability. One implementation exists per
// platform; callers select it by the integration's platform.
type Client interface {
	Platform() catalog.Platform
	// Fetch performs a raw GET against the platform's REST root and returns the
	// body plus the next-page token from the Link header ("" when exhausted).
	Fetch(ctx context.Context, conn *catalog.Connection, path string, params url.Values) ([]byte, string, error)
	ListProducts(ctx context.Context, conn *catalog.Connection, req PageRequest) (Page, error)
	GetProduct(ctx context.Context, conn *catalog.Connection, externalID string) (json.RawMessage, error)
	SearchProducts(ctx context.Context, conn *catalog.Connection, query string, limit int) ([]json.RawMessage, error)
	ShopCurrency(ctx context.Context, conn *catalog.Connection) (string, error)
}

type PageRequest struct {
	Token        string
	Limit        int
	UpdatedSince *time.Time
}

type Page struct {
	Items []json.RawMessage
	Next  string
}

// HTTPError is a non-2xx upstream response. Body is truncated.
type HTTPError struct {
	Platform   catalog.Platform
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s %s: http %d: %s", e.Platform, e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *HTTPError) Retryable() bool {
	return e != nil && httpx.IsRetryableHTTPStatus(e.StatusCode)
}

// IsNotFound reports an upstream 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

// Registry maps platforms to their clients.
type Registry map[catalog.Platform]Client

func NewRegistry(clients ...Client) Registry {
	r := Registry{}
	for _, c := range clients {
		if c != nil {
			r[c.Platform()] = c
		}
	}
	return r
}

func (r Registry) For(p catalog.Platform) (Client, error) {
	c, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("no upstream client for platform %q", p)
	}
	return c, nil
}
