package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/catalog-sync-backend/internal/data/db"
	"github.com/yungbote/catalog-sync-backend/internal/platform/commerce"
	"github.com/yungbote/catalog-sync-backend/internal/platform/embedding"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/openai"
	"github.com/yungbote/catalog-sync-backend/internal/platform/secretbox"
)

type Clients struct {
	Redis     goredis.UniversalClient
	PgPool    *pgxpool.Pool
	Embedder  *embedding.Client
	Commerce  commerce.Registry
	SecretBox *secretbox.Box
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Redis is optional; without it the sync gate falls back to postgres or process-local.
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: strings.Split(addr, ",")})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		out.Redis = rdb
	}

	if cfg.DB.Driver == db.DriverPostgres && out.Redis == nil {
		pool, err := pgxpool.New(ctx, cfg.DB.PostgresDSN())
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init pgx pool: %w", err)
		}
		out.PgPool = pool
	}

	var provider embedding.Provider
	if strings.TrimSpace(cfg.OpenAI.APIKey) != "" {
		oc, err := openai.NewClient(log, cfg.OpenAI)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		provider = oc
	}
	out.Embedder = embedding.NewClient(log, provider, embedding.NewCache(cfg.Embedding.CacheSize))

	opts := cfg.UpstreamOptions()
	out.Commerce = commerce.NewRegistry(
		commerce.NewWooCommerceClient(log, opts),
		commerce.NewShopifyClient(log, cfg.Upstream.ShopifyAPIVersion, opts),
	)

	if key := strings.TrimSpace(cfg.CredentialsEncryptionKey); key != "" {
		box, err := secretbox.FromSecret(key)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init credentials box: %w", err)
		}
		out.SecretBox = box
	}
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.PgPool != nil {
		c.PgPool.Close()
	}
}
