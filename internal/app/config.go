package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/catalog-sync-backend/internal/data/db"
	"github.com/yungbote/catalog-sync-backend/internal/platform/commerce"
	"github.com/yungbote/catalog-sync-backend/internal/platform/envutil"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/openai"
	"github.com/yungbote/catalog-sync-backend/internal/platform/qdrant"
)

const (
	VectorProviderStore  = "store"
	VectorProviderQdrant = "qdrant"
)

type UpstreamConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	WooCommercePageSize int           `yaml:"woocommerce_page_size"`
	ShopifyPageSize     int           `yaml:"shopify_page_size"`
	ShopifyAPIVersion   string        `yaml:"shopify_api_version"`
}

type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	BatchSize  int           `yaml:"batch_size"`
	CacheSize  int           `yaml:"cache_size"`
}

type SearchConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	Threshold    float64       `yaml:"threshold"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

type VectorConfig struct {
	Provider         string        `yaml:"provider"`
	QdrantURL        string        `yaml:"qdrant_url"`
	QdrantAPIKey     string        `yaml:"qdrant_api_key"`
	QdrantCollection string        `yaml:"qdrant_collection"`
	QdrantVectorDim  int           `yaml:"qdrant_vector_dim"`
	QdrantTimeout    time.Duration `yaml:"qdrant_timeout"`
}

type SyncConfig struct {
	TriggerSecret        string        `yaml:"trigger_secret"`
	WebhookSigningSecret string        `yaml:"webhook_signing_secret"`
	LockTTL              time.Duration `yaml:"lock_ttl"`
	CronSchedule         string        `yaml:"cron_schedule"`
	CronTimeout          time.Duration `yaml:"cron_timeout"`
	ReconcileConcurrency int           `yaml:"reconcile_concurrency"`
}

type Config struct {
	Port        string   `yaml:"port"`
	LogMode     string   `yaml:"log_mode"`
	ServiceName string   `yaml:"service_name"`
	Environment string   `yaml:"environment"`
	Version     string   `yaml:"version"`
	CORSOrigins []string `yaml:"cors_allowed_origins"`

	DB        db.Config       `yaml:"database"`
	RedisAddr string          `yaml:"redis_addr"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Vector    VectorConfig    `yaml:"vector"`
	Sync      SyncConfig      `yaml:"sync"`

	CredentialsEncryptionKey string `yaml:"credentials_encryption_key"`

	// Derived by LoadConfig.
	OpenAI openai.Config `yaml:"-"`
	Qdrant qdrant.Config `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Port:        "8080",
		LogMode:     "development",
		ServiceName: "catalog-sync",
		Environment: "development",
		DB: db.Config{
			Driver:     db.DriverPostgres,
			Host:       "localhost",
			Port:       "5432",
			User:       "postgres",
			Name:       "catalog",
			SQLitePath: "catalog.db",
		},
		Upstream: UpstreamConfig{
			Timeout:             20 * time.Second,
			MaxRetries:          2,
			BaseDelay:           500 * time.Millisecond,
			RequestsPerSecond:   4,
			WooCommercePageSize: 100,
			ShopifyPageSize:     250,
			ShopifyAPIVersion:   commerce.DefaultShopifyAPIVersion,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    openai.DefaultBaseURL,
			Model:      openai.DefaultEmbedModel,
			Timeout:    20 * time.Second,
			MaxRetries: 2,
			BatchSize:  50,
			CacheSize:  500,
		},
		Search: SearchConfig{DefaultLimit: 8, MaxLimit: 8, Threshold: 0.2},
		Vector: VectorConfig{
			Provider:         VectorProviderStore,
			QdrantCollection: "catalog_products",
			QdrantVectorDim:  1536,
			QdrantTimeout:    10 * time.Second,
		},
		Sync: SyncConfig{
			LockTTL:              15 * time.Minute,
			CronTimeout:          time.Hour,
			ReconcileConcurrency: 2,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file named by
// CATALOG_CONFIG_PATH, then environment variables.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("CATALOG_CONFIG_PATH")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
		if log != nil {
			log.Info("Loaded config file", "path", path)
		}
	}
	applyEnv(&cfg)

	cfg.OpenAI = openai.ConfigFromEnv(openai.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		EmbedModel: cfg.Embedding.Model,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.Vector.Provider == VectorProviderQdrant {
		qcfg, err := qdrant.ResolveConfigFromEnv(qdrant.Config{
			URL:              cfg.Vector.QdrantURL,
			APIKey:           cfg.Vector.QdrantAPIKey,
			Collection:       cfg.Vector.QdrantCollection,
			VectorDim:        cfg.Vector.QdrantVectorDim,
			Timeout:          cfg.Vector.QdrantTimeout,
			CreateCollection: true,
		})
		if err != nil {
			return Config{}, fmt.Errorf("qdrant config: %w", err)
		}
		if !qcfg.Enabled() {
			return Config{}, errors.New("VECTOR_PROVIDER=qdrant requires QDRANT_URL")
		}
		cfg.Qdrant = qcfg
	}

	if log != nil {
		if cfg.CredentialsEncryptionKey == "" {
			log.Warn("CREDENTIALS_ENCRYPTION_KEY not set; integrations cannot be resolved")
		}
		if cfg.OpenAI.APIKey == "" {
			log.Warn("OPENAI_API_KEY not set; sync and vector search are disabled")
		}
		if cfg.Sync.TriggerSecret == "" {
			log.Warn("SYNC_TRIGGER_SECRET not set; trigger endpoints are unauthenticated")
		}
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and leaves the defaults in place.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envutil.String("PORT", cfg.Port)
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.ServiceName = envutil.String("OTEL_SERVICE_NAME", cfg.ServiceName)
	cfg.Environment = envutil.String("APP_ENV", cfg.Environment)
	cfg.Version = envutil.String("APP_VERSION", cfg.Version)
	cfg.CORSOrigins = envutil.CSV("CORS_ALLOWED_ORIGINS", cfg.CORSOrigins)

	cfg.DB.Driver = strings.ToLower(envutil.String("DB_DRIVER", cfg.DB.Driver))
	cfg.DB.DSN = envutil.String("DB_DSN", cfg.DB.DSN)
	cfg.DB.Host = envutil.String("POSTGRES_HOST", cfg.DB.Host)
	cfg.DB.Port = envutil.String("POSTGRES_PORT", cfg.DB.Port)
	cfg.DB.User = envutil.String("POSTGRES_USER", cfg.DB.User)
	cfg.DB.Password = envutil.String("POSTGRES_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = envutil.String("POSTGRES_NAME", cfg.DB.Name)
	cfg.DB.SQLitePath = envutil.String("SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.MaxOpenConn = envutil.Int("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConn)
	cfg.RedisAddr = envutil.String("REDIS_ADDR", cfg.RedisAddr)

	cfg.Upstream.Timeout = envutil.Duration("UPSTREAM_TIMEOUT", cfg.Upstream.Timeout)
	cfg.Upstream.MaxRetries = envutil.Int("UPSTREAM_MAX_RETRIES", cfg.Upstream.MaxRetries)
	cfg.Upstream.BaseDelay = envutil.Duration("UPSTREAM_BASE_DELAY", cfg.Upstream.BaseDelay)
	cfg.Upstream.RequestsPerSecond = envutil.Float("UPSTREAM_RPS", cfg.Upstream.RequestsPerSecond)
	cfg.Upstream.WooCommercePageSize = envutil.Int("WOOCOMMERCE_PAGE_SIZE", cfg.Upstream.WooCommercePageSize)
	cfg.Upstream.ShopifyPageSize = envutil.Int("SHOPIFY_PAGE_SIZE", cfg.Upstream.ShopifyPageSize)
	cfg.Upstream.ShopifyAPIVersion = envutil.String("SHOPIFY_API_VERSION", cfg.Upstream.ShopifyAPIVersion)

	cfg.Embedding.BatchSize = envutil.Int("EMBED_BATCH_SIZE", cfg.Embedding.BatchSize)
	cfg.Embedding.CacheSize = envutil.Int("EMBED_CACHE_SIZE", cfg.Embedding.CacheSize)

	cfg.Search.DefaultLimit = envutil.Int("SEARCH_DEFAULT_LIMIT", cfg.Search.DefaultLimit)
	cfg.Search.MaxLimit = envutil.Int("SEARCH_MAX_LIMIT", cfg.Search.MaxLimit)
	cfg.Search.Threshold = envutil.Float("SEARCH_THRESHOLD", cfg.Search.Threshold)
	cfg.Search.StaleAfter = envutil.Duration("SEARCH_STALE_AFTER", cfg.Search.StaleAfter)

	cfg.Vector.Provider = strings.ToLower(envutil.String("VECTOR_PROVIDER", cfg.Vector.Provider))

	cfg.Sync.TriggerSecret = envutil.String("SYNC_TRIGGER_SECRET", cfg.Sync.TriggerSecret)
	cfg.Sync.WebhookSigningSecret = envutil.String("WEBHOOK_SIGNING_SECRET", cfg.Sync.WebhookSigningSecret)
	cfg.Sync.LockTTL = envutil.Duration("SYNC_LOCK_TTL", cfg.Sync.LockTTL)
	cfg.Sync.CronSchedule = envutil.String("SYNC_CRON_SCHEDULE", cfg.Sync.CronSchedule)
	cfg.Sync.CronTimeout = envutil.Duration("SYNC_CRON_TIMEOUT", cfg.Sync.CronTimeout)
	cfg.Sync.ReconcileConcurrency = envutil.Int("RECONCILE_CONCURRENCY", cfg.Sync.ReconcileConcurrency)

	cfg.CredentialsEncryptionKey = envutil.String("CREDENTIALS_ENCRYPTION_KEY", cfg.CredentialsEncryptionKey)
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.Vector.Provider {
	case VectorProviderStore, VectorProviderQdrant:
	default:
		return fmt.Errorf("unsupported VECTOR_PROVIDER %q", c.Vector.Provider)
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fmt.Errorf("SEARCH_THRESHOLD must be within [0,1], got %v", c.Search.Threshold)
	}
	if c.Search.MaxLimit <= 0 || c.Search.DefaultLimit <= 0 {
		return errors.New("search limits must be positive")
	}
	if c.Upstream.MaxRetries < 0 {
		return errors.New("UPSTREAM_MAX_RETRIES must not be negative")
	}
	return nil
}

// Address is the listen address for the HTTP server.
func (c Config) Address() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

func (c Config) UpstreamOptions() commerce.Options {
	opts := commerce.DefaultOptions()
	opts.Timeout = c.Upstream.Timeout
	opts.MaxRetries = c.Upstream.MaxRetries
	opts.BaseDelay = c.Upstream.BaseDelay
	if c.Upstream.RequestsPerSecond > 0 {
		opts.RequestsPerSecond = c.Upstream.RequestsPerSecond
	}
	return opts
}
