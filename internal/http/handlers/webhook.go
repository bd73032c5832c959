package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/catalog-sync-backend/internal/http/response"
	"github.com/yungbote/catalog-sync-backend/internal/services"
)

const maxWebhookBody = 5 << 20

type WebhookHandler struct {
	reconciler services.WebhookReconciler
}

func NewWebhookHandler(reconciler services.WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// POST /webhook?integration_id=...&token=...
// The raw body is read untouched so signatures can be checked.
func (h *WebhookHandler) Receive(c *gin.Context) {
	id, err := parseIntegrationID(c.Query("integration_id"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "body_too_large", errBodyTooLarge)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	out, err := h.reconciler.Apply(c.Request.Context(), services.WebhookRequest{
		IntegrationID: id,
		Token:         c.Query("token"),
		Body:          body,
		Headers:       c.Request.Header,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}
