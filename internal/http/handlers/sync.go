package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/http/response"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/services"
)

type SyncHandler struct {
	trigger services.SyncTrigger
}

func NewSyncHandler(trigger services.SyncTrigger) *SyncHandler {
	return &SyncHandler{trigger: trigger}
}

type syncRequest struct {
	IntegrationID string `json:"integration_id"`
	Incremental   bool   `json:"incremental"`
}

type reconcileRequest struct {
	IntegrationID string `json:"integration_id"`
}

// POST /sync
func (h *SyncHandler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	id, err := parseIntegrationID(req.IntegrationID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	res, err := h.trigger.Trigger(c.Request.Context(), id, services.SyncOptions{Incremental: req.Incremental})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"indexed":     res.Indexed,
		"currency":    res.Currency,
		"synced":      res.Synced,
		"pages":       res.Pages,
		"incremental": res.Incremental,
	})
}

// POST /reconcile
func (h *SyncHandler) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	if strings.TrimSpace(req.IntegrationID) != "" {
		id, err := parseIntegrationID(req.IntegrationID)
		if err != nil {
			response.RespondServiceError(c, err)
			return
		}
		response.RespondOK(c, h.trigger.ReconcileOne(c.Request.Context(), id))
		return
	}
	results, err := h.trigger.ReconcileAll(c.Request.Context())
	if err != nil && results == nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"results": results})
}

func parseIntegrationID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("integration_id required: %w", apperrors.ErrInvalidArgument)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("integration_id: %v: %w", err, apperrors.ErrInvalidArgument)
	}
	return id, nil
}

var errBodyTooLarge = errors.New("request body too large")
