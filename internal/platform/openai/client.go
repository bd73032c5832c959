package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/catalog-sync-backend/internal/platform/envutil"
	"github.com/yungbote/catalog-sync-backend/internal/platform/httpx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

const (
	DefaultBaseURL    = "https://api.openai.com"
	DefaultEmbedModel = "text-embedding-3-small"
)

// Config holds the embeddings endpoint settings.
type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	HTTPClient *http.Client
}

// ConfigFromEnv overlays OPENAI_* variables on base. Zero fields of base fall
// back to the package defaults. An empty APIKey is returned as-is; callers
// decide whether that disables embeddings.
func ConfigFromEnv(base Config) Config {
	if base.BaseURL == "" {
		base.BaseURL = DefaultBaseURL
	}
	if base.EmbedModel == "" {
		base.EmbedModel = DefaultEmbedModel
	}
	if base.Timeout <= 0 {
		base.Timeout = 20 * time.Second
	}
	if base.MaxRetries <= 0 {
		base.MaxRetries = 2
	}
	if base.BaseDelay <= 0 {
		base.BaseDelay = 500 * time.Millisecond
	}
	base.APIKey = envutil.String("OPENAI_API_KEY", base.APIKey)
	base.BaseURL = envutil.String("OPENAI_BASE_URL", base.BaseURL)
	base.EmbedModel = envutil.String("OPENAI_EMBED_MODEL", base.EmbedModel)
	base.Timeout = envutil.Duration("OPENAI_TIMEOUT_SECONDS", base.Timeout)
	base.MaxRetries = envutil.Int("OPENAI_MAX_RETRIES", base.MaxRetries)
	return base
}

// Client produces embedding vectors for text inputs.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	embedModel string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.EmbedModel)
	if model == "" {
		model = DefaultEmbedModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &client{
		log:        log.With("client", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		embedModel: model,
		httpClient: hc,
		timeout:    timeout,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}, nil
}

func (c *client) Model() string { return c.embedModel }

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: httpx.TruncateBody(raw, 500)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := c.baseDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, httpx.TruncateBody(raw, 500))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 30*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order. A response that does
// not cover every input is an error; partial results are never returned.
func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	var resp embeddingsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/embeddings", embeddingsRequest{Model: c.embedModel, Input: clean}, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d model=%s", i, len(clean), len(resp.Data), c.embedModel)
		}
	}
	return out, nil
}
