package http

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	httpH "github.com/yungbote/catalog-sync-backend/internal/http/handlers"
	httpMW "github.com/yungbote/catalog-sync-backend/internal/http/middleware"
	"github.com/yungbote/catalog-sync-backend/internal/observability"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/services"
)

type okTrigger struct{ calls int }

func (t *okTrigger) Trigger(_ context.Context, id uuid.UUID, _ services.SyncOptions) (*services.SyncResult, error) {
	t.calls++
	return &services.SyncResult{IntegrationID: id}, nil
}

func (t *okTrigger) ReconcileOne(_ context.Context, id uuid.UUID) services.ReconcileOutcome {
	return services.ReconcileOutcome{IntegrationID: id, Status: services.ReconcileOK}
}

func (t *okTrigger) ReconcileAll(context.Context) ([]services.ReconcileOutcome, error) {
	return nil, nil
}

type okReconciler struct{ calls int }

func (r *okReconciler) Apply(context.Context, services.WebhookRequest) (services.WebhookOutcome, error) {
	r.calls++
	return services.WebhookOutcome{OK: true, Ignored: true}, nil
}

type emptySearch struct{}

func (emptySearch) Search(context.Context, *types.Connection, string, services.SearchOptions) ([]services.SearchResult, error) {
	return nil, nil
}

func (emptySearch) SearchIntegration(context.Context, uuid.UUID, string, services.SearchOptions) ([]services.SearchResult, error) {
	return nil, nil
}

func (emptySearch) SearchByPublicKey(context.Context, string, string, services.SearchOptions) ([]services.SearchResult, error) {
	return nil, nil
}

func newTestRouter(secret string, metrics *observability.Metrics) (*gin.Engine, *okTrigger, *okReconciler) {
	gin.SetMode(gin.TestMode)
	trig := &okTrigger{}
	rec := &okReconciler{}
	r := NewRouter(RouterConfig{
		Log:            logger.Nop(),
		Metrics:        metrics,
		TriggerAuth:    httpMW.NewTriggerAuth(logger.Nop(), secret),
		SyncHandler:    httpH.NewSyncHandler(trig),
		WebhookHandler: httpH.NewWebhookHandler(rec),
		SearchHandler:  httpH.NewSearchHandler(emptySearch{}),
		HealthHandler:  httpH.NewHealthHandler(nil),
	})
	return r, trig, rec
}

func serve(r *gin.Engine, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterGatesTriggerRoutes(t *testing.T) {
	r, trig, _ := newTestRouter("s3cret", nil)
	body := `{"integration_id":"` + uuid.NewString() + `"}`

	if w := serve(r, nethttp.MethodPost, "/sync", body, nil); w.Code != nethttp.StatusUnauthorized {
		t.Fatalf("/sync without token: status=%d", w.Code)
	}
	if w := serve(r, nethttp.MethodPost, "/internal/search", `{"query":"mug","public_key":"pk"}`, nil); w.Code != nethttp.StatusUnauthorized {
		t.Fatalf("/internal/search without token: status=%d", w.Code)
	}
	if trig.calls != 0 {
		t.Fatalf("trigger reached without auth")
	}

	w := serve(r, nethttp.MethodPost, "/sync", body, map[string]string{"Authorization": "Bearer s3cret"})
	if w.Code != nethttp.StatusOK || trig.calls != 1 {
		t.Fatalf("/sync with token: status=%d calls=%d body=%s", w.Code, trig.calls, w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id header")
	}
}

func TestRouterWebhookIsNotTriggerGated(t *testing.T) {
	r, _, rec := newTestRouter("s3cret", nil)
	target := "/webhook?integration_id=" + uuid.NewString() + "&token=hook-token"
	w := serve(r, nethttp.MethodPost, target, `{"id":1}`, nil)
	if w.Code != nethttp.StatusOK || rec.calls != 1 {
		t.Fatalf("webhook: status=%d calls=%d", w.Code, rec.calls)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r, _, _ := newTestRouter("", nil)
	if w := serve(r, nethttp.MethodGet, "/healthcheck", "", nil); w.Code != nethttp.StatusOK {
		t.Fatalf("healthcheck status=%d", w.Code)
	}
	if w := serve(r, nethttp.MethodGet, "/metrics", "", nil); w.Code != nethttp.StatusNotFound {
		t.Fatalf("metrics should be absent when disabled, status=%d", w.Code)
	}

	r, _, _ = newTestRouter("", observability.NewMetrics())
	serve(r, nethttp.MethodGet, "/healthcheck", "", nil)
	w := serve(r, nethttp.MethodGet, "/metrics", "", nil)
	if w.Code != nethttp.StatusOK || !strings.Contains(w.Body.String(), "catalog_") {
		t.Fatalf("metrics status=%d body=%q", w.Code, w.Body.String())
	}
}
