package app

import (
	"gorm.io/gorm"

	apphttp "github.com/yungbote/catalog-sync-backend/internal/http"
	httpH "github.com/yungbote/catalog-sync-backend/internal/http/handlers"
	httpMW "github.com/yungbote/catalog-sync-backend/internal/http/middleware"
	"github.com/yungbote/catalog-sync-backend/internal/observability"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type Handlers struct {
	Health  *httpH.HealthHandler
	Sync    *httpH.SyncHandler
	Webhook *httpH.WebhookHandler
	Search  *httpH.SearchHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, svc Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:  httpH.NewHealthHandler(db),
		Sync:    httpH.NewSyncHandler(svc.Trigger),
		Webhook: httpH.NewWebhookHandler(svc.Webhooks),
		Search:  httpH.NewSearchHandler(svc.Search),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *apphttp.Server {
	return apphttp.NewServer(cfg.Address(), apphttp.RouterConfig{
		Log:            log,
		ServiceName:    cfg.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		Metrics:        metrics,
		TriggerAuth:    httpMW.NewTriggerAuth(log, cfg.Sync.TriggerSecret),
		SyncHandler:    handlers.Sync,
		WebhookHandler: handlers.Webhook,
		SearchHandler:  handlers.Search,
		HealthHandler:  handlers.Health,
	})
}
