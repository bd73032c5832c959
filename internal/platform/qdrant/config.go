package qdrant

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/catalog-sync-backend/internal/platform/envutil"
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
	Timeout    time.Duration
	// CreateCollection creates a cosine collection on startup when it is absent.
	CreateCollection bool
}

// Enabled reports whether a Qdrant URL was configured at all.
func (c Config) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

type ConfigErrorCode string

const (
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333", e.Value)
	case ConfigErrorMissingCollection:
		return "QDRANT_COLLECTION is required when QDRANT_URL is set"
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf("invalid QDRANT_VECTOR_DIM=%q; expected positive integer", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveConfigFromEnv overlays QDRANT_* variables on base. Zero fields of
// base take the defaults. An unset URL yields a disabled config and no error.
func ResolveConfigFromEnv(base Config) (Config, error) {
	if base.Collection == "" {
		base.Collection = "catalog_products"
	}
	if base.VectorDim == 0 {
		base.VectorDim = 1536
	}
	if base.Timeout <= 0 {
		base.Timeout = 10 * time.Second
	}
	cfg := Config{
		URL:              envutil.String("QDRANT_URL", base.URL),
		APIKey:           envutil.String("QDRANT_API_KEY", base.APIKey),
		Collection:       envutil.String("QDRANT_COLLECTION", base.Collection),
		VectorDim:        envutil.Int("QDRANT_VECTOR_DIM", base.VectorDim),
		Timeout:          envutil.Duration("QDRANT_TIMEOUT", base.Timeout),
		CreateCollection: envutil.Bool("QDRANT_CREATE_COLLECTION", base.CreateCollection),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL, Cause: err}
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: strconv.Itoa(cfg.VectorDim)}
	}
	return nil
}
