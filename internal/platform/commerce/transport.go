package commerce

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
	"github.com/yungbote/catalog-sync-backend/internal/observability"
	"github.com/yungbote/catalog-sync-backend/internal/platform/httpx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

const (
	maxErrorBodyBytes    = 500
	maxResponseBodyBytes = 32 << 20
)

type Options struct {
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Burst <= 0 {
		o.Burst = 4
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// DefaultOptions matches the documented defaults: 20s per attempt, two retries.
func DefaultOptions() Options {
	return Options{
		Timeout:           20 * time.Second,
		MaxRetries:        2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		RequestsPerSecond: 4,
		Burst:             4,
	}
}

// transport executes upstream calls with per-store pacing and bounded retries.
type transport struct {
	log      *logger.Logger
	platform catalog.Platform
	opts     Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newTransport(log *logger.Logger, platform catalog.Platform, opts Options) *transport {
	if log == nil {
		log = logger.Nop()
	}
	return &transport{
		log:      log,
		platform: platform,
		opts:     opts.withDefaults(),
		limiters: map[string]*rate.Limiter{},
	}
}

func (t *transport) limiter(store string) *rate.Limiter {
	if t.opts.RequestsPerSecond <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[store]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.opts.RequestsPerSecond), t.opts.Burst)
		t.limiters[store] = l
	}
	return l
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

// bodyCheck inspects a 2xx body; a returned error carrying a retryable status
// (see httpx.HTTPStatusCoder) is retried like a transport failure.
type bodyCheck func(raw []byte) error

type response struct {
	Header     http.Header
	StatusCode int
	Body       []byte
}

func (t *transport) do(ctx context.Context, store string, path string, build requestBuilder, check bodyCheck) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l := t.limiter(store); l != nil {
			if err := l.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, httpResp, err := t.once(ctx, path, build)
		if err == nil && check != nil {
			err = check(resp.Body)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !httpx.IsRetryableError(err) || attempt == t.opts.MaxRetries {
			return nil, err
		}

		backoff := t.opts.BaseDelay * time.Duration(1<<attempt)
		sleepFor := httpx.RetryAfterDuration(httpResp, backoff, t.opts.MaxDelay)
		t.log.Warn("Upstream request retrying",
			"platform", t.platform,
			"store", store,
			"path", path,
			"attempt", attempt+1,
			"max_retries", t.opts.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (t *transport) once(ctx context.Context, path string, build requestBuilder) (*response, *http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		observability.Current().IncUpstream(string(t.platform), 0)
		return nil, nil, fmt.Errorf("%s %s: %w", t.platform, path, err)
	}
	defer httpResp.Body.Close()
	observability.Current().IncUpstream(string(t.platform), httpResp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, httpResp, fmt.Errorf("%s %s: read body: %w", t.platform, path, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, httpResp, &HTTPError{
			Platform:   t.platform,
			Method:     req.Method,
			Path:       path,
			StatusCode: httpResp.StatusCode,
			Body:       httpx.TruncateBody(raw, maxErrorBodyBytes),
		}
	}
	return &response{Header: httpResp.Header, StatusCode: httpResp.StatusCode, Body: raw}, httpResp, nil
}
