package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/catalog-sync-backend/internal/platform/envutil"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

// Metrics is the process-wide set of counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *GaugeVec

	syncRuns      *CounterVec
	syncDuration  *HistogramVec
	syncProducts  *CounterVec
	upstreamCalls *CounterVec
	embedCalls    *CounterVec
	searchPath    *CounterVec
	webhooks      *CounterVec
	vectorOps     *HistogramVec

	dbStats   *GaugeVec
	redisUp   *GaugeVec
	redisPing *GaugeVec

	collectors []collector
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

func Current() *Metrics { return instance }

// Init builds the metric set once when METRICS_ENABLED is on.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("Metrics enabled")
		}
	})
	return instance
}

func NewMetrics() *Metrics {
	m := &Metrics{
		apiRequests: NewCounterVec("catalog_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec("catalog_api_request_duration_seconds", "API latency by method/route.",
			[]string{"method", "route"}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}),
		apiInflight: NewGaugeVec("catalog_api_inflight_requests", "In-flight API requests.", nil),

		syncRuns: NewCounterVec("catalog_sync_runs_total", "Full sync runs by platform/mode/status.", []string{"platform", "mode", "status"}),
		syncDuration: NewHistogramVec("catalog_sync_duration_seconds", "Full sync duration by platform/status.",
			[]string{"platform", "status"}, []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}),
		syncProducts:  NewCounterVec("catalog_sync_products_total", "Products upserted by platform/source.", []string{"platform", "source"}),
		upstreamCalls: NewCounterVec("catalog_upstream_requests_total", "Upstream catalog requests by platform/status.", []string{"platform", "status"}),
		embedCalls:    NewCounterVec("catalog_embedding_texts_total", "Embedding texts by outcome.", []string{"outcome"}),
		searchPath:    NewCounterVec("catalog_search_total", "Searches by serving path.", []string{"path"}),
		webhooks:      NewCounterVec("catalog_webhook_events_total", "Webhook events by platform/outcome.", []string{"platform", "outcome"}),
		vectorOps: NewHistogramVec("catalog_vector_index_duration_seconds", "Vector index operations by provider/operation/status.",
			[]string{"provider", "operation", "status"}, []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}),

		dbStats:   NewGaugeVec("catalog_db_stats", "Database pool stats.", []string{"metric"}),
		redisUp:   NewGaugeVec("catalog_redis_up", "Redis connectivity (1=up, 0=down).", nil),
		redisPing: NewGaugeVec("catalog_redis_ping_seconds", "Redis ping latency in seconds.", nil),
	}
	m.collectors = []collector{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.syncRuns, m.syncDuration, m.syncProducts, m.upstreamCalls, m.embedCalls, m.searchPath, m.webhooks, m.vectorOps,
		m.dbStats, m.redisUp, m.redisPing,
	}
	return m
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflightAdd(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

func (m *Metrics) ObserveSync(platform, mode, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.Inc(platform, mode, status)
	m.syncDuration.Observe(dur.Seconds(), platform, status)
}

func (m *Metrics) AddProducts(platform, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncProducts.Add(float64(n), platform, source)
}

func (m *Metrics) IncUpstream(platform string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamCalls.Inc(platform, label)
}

func (m *Metrics) AddEmbedded(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embedCalls.Add(float64(n), outcome)
}

func (m *Metrics) IncSearch(path string) {
	if m == nil {
		return
	}
	m.searchPath.Inc(path)
}

func (m *Metrics) IncWebhook(platform, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.Inc(platform, outcome)
}

func (m *Metrics) ObserveVectorOp(provider, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.vectorOps.Observe(dur.Seconds(), provider, operation, status)
}

// SearchCount exposes one search series for tests.
func (m *Metrics) SearchCount(path string) float64 {
	if m == nil {
		return 0
	}
	return m.searchPath.Value(path)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.collectors {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL", 15*time.Second)
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				s := sqlDB.Stats()
				m.dbStats.Set(float64(s.OpenConnections), "open_connections")
				m.dbStats.Set(float64(s.InUse), "in_use")
				m.dbStats.Set(float64(s.Idle), "idle")
				m.dbStats.Set(float64(s.WaitCount), "wait_count")
				m.dbStats.Set(s.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

// StartRedisCollector pings the shared client; it does not own or close it.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb goredis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
