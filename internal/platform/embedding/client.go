package embedding

import (
	"context"
	"fmt"

	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

// Provider is the remote embeddings backend.
type Provider interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

// Client embeds text through a Provider with a shared exact-text cache.
type Client struct {
	log      *logger.Logger
	provider Provider
	cache    *Cache
}

// NewClient accepts a nil provider; every call then fails with a
// missing-configuration error.
func NewClient(log *logger.Logger, provider Provider, cache *Cache) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if cache == nil {
		cache = NewCache(DefaultCacheSize)
	}
	return &Client{
		log:      log.With("client", "EmbeddingClient"),
		provider: provider,
		cache:    cache,
	}
}

// Configured reports whether a provider is present.
func (c *Client) Configured() bool { return c != nil && c.provider != nil }

func (c *Client) Model() string {
	if !c.Configured() {
		return ""
	}
	return c.provider.Model()
}

func (c *Client) CheckConfigured() error {
	if !c.Configured() {
		return fmt.Errorf("%w: OPENAI_API_KEY", apperrors.ErrMissingConfig)
	}
	return nil
}

// EmbedBatch returns one vector per text in input order. Cache misses go to
// the provider in a single call; a provider failure fails the whole batch and
// caches nothing.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.CheckConfigured(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	missIdx := map[string][]int{}
	var misses []string
	for i, t := range texts {
		if vec, ok := c.cache.Get(t); ok {
			out[i] = vec
			continue
		}
		if _, seen := missIdx[t]; !seen {
			misses = append(misses, t)
		}
		missIdx[t] = append(missIdx[t], i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.provider.Embed(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(misses), err)
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("embed: provider returned %d vectors for %d texts", len(vecs), len(misses))
	}
	for i := range misses {
		if len(vecs[i]) == 0 {
			return nil, fmt.Errorf("embed: empty vector at %d", i)
		}
	}
	for i, t := range misses {
		c.cache.Put(t, vecs[i])
		for _, j := range missIdx[t] {
			out[j] = vecs[i]
		}
	}
	c.log.Debug("Embedded batch", "texts", len(texts), "misses", len(misses))
	return out, nil
}

func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
