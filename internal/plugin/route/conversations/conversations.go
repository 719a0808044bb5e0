package conversations

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/hierarchy"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
	registryroute "github.com/chirino/conversation-service/internal/registry/route"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts conversation routes on the given router group.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.ConversationStore, cfg *config.Config, auth gin.HandlerFunc, cache registrycache.HierarchyCache) {
	g := r.Group("/v1", auth)

	g.GET("/conversations/hierarchy", func(c *gin.Context) {
		getHierarchy(c, store, cfg, cache)
	})
	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, store, cache)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, store)
	})
	g.PATCH("/conversations/:conversationId", func(c *gin.Context) {
		updateConversation(c, store, cache)
	})
	g.DELETE("/conversations/:conversationId", func(c *gin.Context) {
		deleteConversation(c, store, cache)
	})
}

func getHierarchy(c *gin.Context, store registrystore.ConversationStore, cfg *config.Config, cache registrycache.HierarchyCache) {
	userID := security.GetUserID(c)

	limit := registrystore.DefaultHierarchyLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			handleError(c, &registrystore.InvalidQueryError{Field: "limit", Message: "must be an integer"})
			return
		}
		limit = v
	}
	if limit < 1 || limit > registrystore.MaxLimit {
		handleError(c, &registrystore.InvalidQueryError{Field: "limit", Message: "must be between 1 and 100"})
		return
	}

	includeOrphaned := false
	if raw := c.Query("includeOrphaned"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			handleError(c, &registrystore.InvalidQueryError{Field: "includeOrphaned", Message: "must be a boolean"})
			return
		}
		includeOrphaned = v
	}

	ctx := c.Request.Context()
	if cache != nil && cache.Available() {
		cached, err := cache.Get(ctx, userID, limit, includeOrphaned)
		if err != nil {
			log.Warn("Hierarchy cache read failed", "err", err)
		} else if cached != nil {
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			c.JSON(http.StatusOK, cached)
			return
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
	}

	convs, err := store.FetchUserConversationsWithBranching(ctx, userID, 0)
	if err != nil {
		handleError(c, err)
		return
	}
	graph, err := hierarchy.BuildBranchGraph(convs)
	if err != nil {
		handleError(c, err)
		return
	}
	result := hierarchy.Assemble(convs, graph, limit, includeOrphaned)

	if security.HierarchyRootsReturned != nil {
		security.HierarchyRootsReturned.Observe(float64(len(result.Data)))
	}
	if cache != nil && cache.Available() {
		ttl := cfg.CacheHierarchyTTL
		if err := cache.Set(ctx, userID, limit, includeOrphaned, result, ttl); err != nil {
			log.Warn("Hierarchy cache write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, result)
}

func createConversation(c *gin.Context, store registrystore.ConversationStore, cache registrycache.HierarchyCache) {
	userID := security.GetUserID(c)
	var req registrystore.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Title) > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "title exceeds maximum length"})
		return
	}

	conv, err := store.CreateConversation(c.Request.Context(), userID, req)
	if err != nil {
		handleError(c, err)
		return
	}
	invalidate(c, cache, userID)
	c.JSON(http.StatusCreated, conv)
}

func getConversation(c *gin.Context, store registrystore.ConversationStore) {
	userID := security.GetUserID(c)
	conversationID, ok := pathUUID(c, "conversationId")
	if !ok {
		return
	}
	conv, err := store.GetConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func updateConversation(c *gin.Context, store registrystore.ConversationStore, cache registrycache.HierarchyCache) {
	userID := security.GetUserID(c)
	conversationID, ok := pathUUID(c, "conversationId")
	if !ok {
		return
	}
	var req struct {
		Title      *string                `json:"title"`
		Model      *string                `json:"model"`
		IsShared   *bool                  `json:"isShared"`
		BranchName *string                `json:"branchName"`
		Tags       []string               `json:"tags"`
		Metadata   map[string]interface{} `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title != nil && len(*req.Title) > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "title exceeds maximum length"})
		return
	}

	conv, err := store.UpdateConversation(c.Request.Context(), userID, conversationID, registrystore.ConversationUpdate{
		Title:      req.Title,
		Model:      req.Model,
		IsShared:   req.IsShared,
		BranchName: req.BranchName,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	invalidate(c, cache, userID)
	c.JSON(http.StatusOK, conv)
}

func deleteConversation(c *gin.Context, store registrystore.ConversationStore, cache registrycache.HierarchyCache) {
	userID := security.GetUserID(c)
	conversationID, ok := pathUUID(c, "conversationId")
	if !ok {
		return
	}
	if err := store.DeleteConversation(c.Request.Context(), userID, conversationID); err != nil {
		handleError(c, err)
		return
	}
	invalidate(c, cache, userID)
	c.Status(http.StatusNoContent)
}

func invalidate(c *gin.Context, cache registrycache.HierarchyCache, userID string) {
	if cache == nil || !cache.Available() {
		return
	}
	if err := cache.Invalidate(c.Request.Context(), userID); err != nil {
		log.Warn("Hierarchy cache invalidation failed", "user", userID, "err", err)
	}
}

func pathUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(key))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return uuid.UUID{}, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var invalidQuery *registrystore.InvalidQueryError
	var conflict *registrystore.ConflictError
	var integrity *registrystore.StructuralIntegrityError
	var unavailable *registrystore.UnavailableError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &invalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_query", "error": err.Error(), "field": invalidQuery.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &integrity):
		// Correct data never produces this; log loudly, it is an upstream
		// data-integrity bug.
		log.Error("Conversation parent chain contains a cycle", "conversationId", integrity.ConversationID)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "structural_integrity_error", "error": "conversation hierarchy is corrupted"})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_unavailable", "error": "storage backend unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
