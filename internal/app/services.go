package app

import (
	"context"
	"fmt"

	"github.com/yungbote/catalog-sync-backend/internal/normalization"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/secretbox"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
	"github.com/yungbote/catalog-sync-backend/internal/services"
)

type Services struct {
	Credentials services.CredentialResolver
	Sync        services.CatalogSyncService
	Trigger     services.SyncTrigger
	Webhooks    services.WebhookReconciler
	Search      services.CatalogSearchService
	Scheduler   *services.SyncScheduler
	Index       vectorindex.Index
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, reposet Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	var box secretbox.Decrypter
	if clients.SecretBox != nil {
		box = clients.SecretBox
	}
	resolver := services.NewCredentialResolver(log, reposet.Tenant, reposet.Integration, box)

	index, err := resolveVectorIndex(ctx, log, cfg, reposet.Product)
	if err != nil {
		return Services{}, err
	}

	normalizer := normalization.New()
	syncs := services.NewCatalogSyncService(
		log,
		reposet.Integration,
		reposet.Product,
		resolver,
		clients.Commerce,
		normalizer,
		clients.Embedder,
		index,
		services.CatalogSyncConfig{
			WooCommercePageSize: cfg.Upstream.WooCommercePageSize,
			ShopifyPageSize:     cfg.Upstream.ShopifyPageSize,
			EmbedBatchSize:      cfg.Embedding.BatchSize,
		},
	)

	trigger := services.NewSyncTrigger(log, syncs, wireSyncGate(log, cfg, clients), reposet.Integration, cfg.Sync.ReconcileConcurrency)

	webhooks := services.NewWebhookReconciler(log, reposet.Integration, resolver, syncs, cfg.Sync.WebhookSigningSecret)

	search := services.NewCatalogSearchService(
		log,
		reposet.Product,
		resolver,
		clients.Commerce,
		normalizer,
		clients.Embedder,
		index,
		syncs,
		services.CatalogSearchConfig{
			DefaultLimit: cfg.Search.DefaultLimit,
			MaxLimit:     cfg.Search.MaxLimit,
			Threshold:    cfg.Search.Threshold,
			StaleAfter:   cfg.Search.StaleAfter,
		},
	)

	scheduler, err := services.NewSyncScheduler(log, trigger, cfg.Sync.CronSchedule, cfg.Sync.CronTimeout)
	if err != nil {
		return Services{}, fmt.Errorf("init sync scheduler: %w", err)
	}

	return Services{
		Credentials: resolver,
		Sync:        syncs,
		Trigger:     trigger,
		Webhooks:    webhooks,
		Search:      search,
		Scheduler:   scheduler,
		Index:       index,
	}, nil
}

// wireSyncGate prefers a redis lease, then a postgres advisory lock, then an
// in-process guard for single-replica sqlite deployments.
func wireSyncGate(log *logger.Logger, cfg Config, clients Clients) services.SyncGate {
	switch {
	case clients.Redis != nil:
		log.Info("Sync gate selected", "gate", "redis", "ttl", cfg.Sync.LockTTL)
		return services.NewRedisSyncGate(log, clients.Redis, cfg.Sync.LockTTL)
	case clients.PgPool != nil:
		log.Info("Sync gate selected", "gate", "postgres_advisory")
		return services.NewPostgresSyncGate(log, clients.PgPool)
	default:
		log.Info("Sync gate selected", "gate", "local")
		return services.NewLocalSyncGate()
	}
}
