package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, rt roundTripperFunc) Client {
	t.Helper()
	c, err := NewClient(logger.Nop(), Config{
		APIKey:     "sk-test",
		BaseURL:    "https://openai.test/",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		HTTPClient: &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "https://openai.test/v1/embeddings" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("authorization=%q", got)
		}
		var body embeddingsRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Model != DefaultEmbedModel || len(body.Input) != 2 || body.Input[1] != " " {
			t.Fatalf("unexpected request %+v", body)
		}
		return jsonResponse(200, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`), nil
	})
	out, err := c.Embed(context.Background(), []string{"red shoes", ""})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 2 || out[0][0] != 1 || out[1][1] != 1 {
		t.Fatalf("unexpected vectors %v", out)
	}
}

func TestEmbedMissingIndexFails(t *testing.T) {
	c := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"data":[{"index":0,"embedding":[1]}]}`), nil
	})
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected error for partial response")
	}
}

func TestEmbedRetriesTransientStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return jsonResponse(503, `{"error":"busy"}`), nil
		}
		return jsonResponse(200, `{"data":[{"index":0,"embedding":[0.5]}]}`), nil
	})
	out, err := c.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 3 || out[0][0] != 0.5 {
		t.Fatalf("calls=%d out=%v", calls, out)
	}
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(401, strings.Repeat("x", 2000)), nil
	})
	_, err := c.Embed(context.Background(), []string{"a"})
	herr, ok := err.(*openAIHTTPError)
	if !ok || herr.StatusCode != 401 {
		t.Fatalf("expected 401 http error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	if len(herr.Body) > 510 {
		t.Fatalf("body not truncated: %d", len(herr.Body))
	}
}

func TestConfigFromEnvOverlaysBase(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_EMBED_MODEL", "")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "7")
	t.Setenv("OPENAI_MAX_RETRIES", "")

	cfg := ConfigFromEnv(Config{APIKey: "sk-file", EmbedModel: "text-embedding-3-large", MaxRetries: 4})
	if cfg.APIKey != "sk-env" || cfg.EmbedModel != "text-embedding-3-large" || cfg.MaxRetries != 4 {
		t.Fatalf("overlay: %+v", cfg)
	}
	if cfg.BaseURL != DefaultBaseURL || cfg.Timeout != 7*time.Second || cfg.BaseDelay <= 0 {
		t.Fatalf("defaults: %+v", cfg)
	}
}
