package search

import (
	"errors"
	"net/http"

	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/security"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts search routes.
func MountRoutes(r *gin.Engine, store registrystore.ConversationStore, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/conversations/search", func(c *gin.Context) {
		searchConversations(c, store)
	})
}

func searchConversations(c *gin.Context, store registrystore.ConversationStore) {
	userID := security.GetUserID(c)

	// Limit and offset bind through pointers so "absent" (defaulted) is
	// distinguishable from an explicit out-of-range value (rejected).
	var req struct {
		Query     string                   `json:"searchQuery"`
		DateRange *registrystore.DateRange `json:"dateRange"`
		Models    []string                 `json:"models"`
		Tags      []string                 `json:"tags"`
		SortBy    model.SortBy             `json:"sortBy"`
		SortOrder model.SortOrder          `json:"sortOrder"`
		Limit     *int                     `json:"limit"`
		Offset    *int                     `json:"offset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}

	filters := registrystore.SearchFilters{
		Query:     req.Query,
		DateRange: req.DateRange,
		Models:    req.Models,
		Tags:      req.Tags,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
		Limit:     registrystore.DefaultSearchLimit,
	}
	if req.Limit != nil {
		filters.Limit = *req.Limit
	}
	if req.Offset != nil {
		filters.Offset = *req.Offset
	}
	if err := filters.Normalize(); err != nil {
		handleError(c, err)
		return
	}

	page, err := store.SearchUserConversations(c.Request.Context(), userID, filters)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func handleError(c *gin.Context, err error) {
	var invalidQuery *registrystore.InvalidQueryError
	var unavailable *registrystore.UnavailableError

	switch {
	case errors.As(err, &invalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_query", "error": err.Error(), "field": invalidQuery.Field})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_unavailable", "error": "storage backend unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
