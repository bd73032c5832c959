package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/catalog-sync-backend/internal/http/response"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/services"
)

type SearchHandler struct {
	search services.CatalogSearchService
}

func NewSearchHandler(search services.CatalogSearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	IntegrationID    string `json:"integration_id"`
	PublicKey        string `json:"public_key"`
	Query            string `json:"query"`
	RequireFreshness bool   `json:"require_freshness"`
	TargetID         string `json:"target_id"`
	Limit            int    `json:"limit"`
}

// POST /internal/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	opts := services.SearchOptions{
		RequireFreshness: req.RequireFreshness,
		TargetID:         req.TargetID,
		Limit:            req.Limit,
	}
	ctx := c.Request.Context()

	var (
		results []services.SearchResult
		err     error
	)
	switch {
	case strings.TrimSpace(req.IntegrationID) != "":
		id, perr := parseIntegrationID(req.IntegrationID)
		if perr != nil {
			response.RespondServiceError(c, perr)
			return
		}
		results, err = h.search.SearchIntegration(ctx, id, req.Query, opts)
	case strings.TrimSpace(req.PublicKey) != "":
		results, err = h.search.SearchByPublicKey(ctx, req.PublicKey, req.Query, opts)
	default:
		err = fmt.Errorf("integration_id or public_key required: %w", apperrors.ErrInvalidArgument)
	}
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if results == nil {
		results = []services.SearchResult{}
	}
	response.RespondOK(c, gin.H{"results": results})
}
