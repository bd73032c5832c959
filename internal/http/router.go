package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/catalog-sync-backend/internal/http/handlers"
	httpMW "github.com/yungbote/catalog-sync-backend/internal/http/middleware"
	"github.com/yungbote/catalog-sync-backend/internal/observability"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	TriggerAuth *httpMW.TriggerAuth

	SyncHandler    *httpH.SyncHandler
	WebhookHandler *httpH.WebhookHandler
	SearchHandler  *httpH.SearchHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "catalog-sync"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Store callbacks authenticate per integration, not with the trigger secret.
	if cfg.WebhookHandler != nil {
		r.POST("/webhook", cfg.WebhookHandler.Receive)
	}

	gated := r.Group("/")
	{
		if cfg.TriggerAuth != nil {
			gated.Use(cfg.TriggerAuth.Require())
		}

		if cfg.SyncHandler != nil {
			gated.POST("/sync", cfg.SyncHandler.Sync)
			gated.POST("/reconcile", cfg.SyncHandler.Reconcile)
		}

		// Internal surface for the shopping assistant.
		if cfg.SearchHandler != nil {
			gated.POST("/internal/search", cfg.SearchHandler.Search)
		}
	}

	return r
}
