package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	routesearch "github.com/chirino/conversation-service/internal/plugin/route/search"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/search"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// searchStore records the filters it receives and serves from a fixed
// candidate set, so tests can assert both the request mapping and the
// resulting page.
type searchStore struct {
	records     []registrystore.ConversationRecord
	lastFilters registrystore.SearchFilters
	err         error
}

func (s *searchStore) SearchUserConversations(_ context.Context, userID string, filters registrystore.SearchFilters) (*registrystore.SearchPage, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastFilters = filters
	var mine []registrystore.ConversationRecord
	for _, r := range s.records {
		if r.OwnerUserID != userID {
			continue
		}
		if !search.MatchQuery(filters.Query, r.Title, nil) {
			continue
		}
		mine = append(mine, r)
	}
	return search.Run(mine, filters), nil
}

func (s *searchStore) CreateConversation(context.Context, string, registrystore.CreateConversationRequest) (*registrystore.ConversationRecord, error) {
	panic("not used")
}

func (s *searchStore) GetConversation(context.Context, string, uuid.UUID) (*registrystore.ConversationRecord, error) {
	panic("not used")
}

func (s *searchStore) UpdateConversation(context.Context, string, uuid.UUID, registrystore.ConversationUpdate) (*registrystore.ConversationRecord, error) {
	panic("not used")
}

func (s *searchStore) DeleteConversation(context.Context, string, uuid.UUID) error {
	panic("not used")
}

func (s *searchStore) FetchUserConversationsWithBranching(context.Context, string, int) ([]model.Conversation, error) {
	panic("not used")
}

func (s *searchStore) Ping(context.Context) error { return nil }

var _ registrystore.ConversationStore = (*searchStore)(nil)

func seedRecords() []registrystore.ConversationRecord {
	titles := []string{"Alpha plan", "Beta notes", "Gamma review"}
	records := make([]registrystore.ConversationRecord, 0, len(titles))
	for i, title := range titles {
		records = append(records, registrystore.ConversationRecord{
			Conversation: model.Conversation{
				ID:          uuid.UUID{byte(i + 1)},
				OwnerUserID: "alice",
				Title:       title,
				CreatedAt:   baseTime.Add(time.Duration(i) * time.Hour),
				UpdatedAt:   baseTime.Add(time.Duration(i) * time.Hour),
			},
		})
	}
	records = append(records, registrystore.ConversationRecord{
		Conversation: model.Conversation{
			ID:          uuid.UUID{0xbb},
			OwnerUserID: "bob",
			Title:       "Alpha but bobs",
			CreatedAt:   baseTime,
			UpdatedAt:   baseTime,
		},
	})
	return records
}

func setupRouter(store registrystore.ConversationStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) {
		c.Set("userID", c.GetHeader("X-Test-User"))
		c.Next()
	}
	routesearch.MountRoutes(router, store, auth)
	return router
}

func doSearch(t *testing.T, router *gin.Engine, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) registrystore.SearchPage {
	t.Helper()
	var page registrystore.SearchPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	return page
}

func TestSearch_DefaultsApplied(t *testing.T) {
	store := &searchStore{records: seedRecords()}
	router := setupRouter(store)

	w := doSearch(t, router, "alice", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, registrystore.DefaultSearchLimit, store.lastFilters.Limit)
	assert.Equal(t, model.SortByUpdated, store.lastFilters.SortBy)
	assert.Equal(t, model.SortDesc, store.lastFilters.SortOrder)

	page := decodePage(t, w)
	assert.Equal(t, 3, page.Total)
	assert.False(t, page.HasMore)
	// Default sort is most recently updated first.
	require.NotEmpty(t, page.Conversations)
	assert.Equal(t, "Gamma review", page.Conversations[0].Title)
}

func TestSearch_QueryScopedToUser(t *testing.T) {
	store := &searchStore{records: seedRecords()}
	router := setupRouter(store)

	w := doSearch(t, router, "alice", `{"searchQuery":"alpha"}`)
	require.Equal(t, http.StatusOK, w.Code)

	page := decodePage(t, w)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Alpha plan", page.Conversations[0].Title)
}

func TestSearch_ExplicitLimitBounds(t *testing.T) {
	store := &searchStore{records: seedRecords()}
	router := setupRouter(store)

	// Absent limit defaults; explicit out-of-range values are rejected, not
	// silently defaulted or clamped.
	for _, body := range []string{`{"limit":0}`, `{"limit":-1}`, `{"limit":101}`} {
		w := doSearch(t, router, "alice", body)
		require.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
		assert.Contains(t, w.Body.String(), "invalid_query")
		assert.Contains(t, w.Body.String(), "limit")
	}

	for _, body := range []string{`{"limit":1}`, `{"limit":100}`} {
		w := doSearch(t, router, "alice", body)
		require.Equal(t, http.StatusOK, w.Code, "body %s", body)
	}
}

func TestSearch_Pagination(t *testing.T) {
	store := &searchStore{records: seedRecords()}
	router := setupRouter(store)

	w := doSearch(t, router, "alice", `{"limit":2,"offset":0,"sortBy":"title","sortOrder":"asc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodePage(t, w)
	require.Len(t, page.Conversations, 2)
	assert.Equal(t, "Alpha plan", page.Conversations[0].Title)
	assert.Equal(t, "Beta notes", page.Conversations[1].Title)
	assert.True(t, page.HasMore)

	w = doSearch(t, router, "alice", `{"limit":2,"offset":2,"sortBy":"title","sortOrder":"asc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	page = decodePage(t, w)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "Gamma review", page.Conversations[0].Title)
	assert.False(t, page.HasMore)
}

func TestSearch_RejectsUnknownSortKey(t *testing.T) {
	router := setupRouter(&searchStore{records: seedRecords()})

	w := doSearch(t, router, "alice", `{"sortBy":"popularity"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "sortBy")
}

func TestSearch_RejectsInvertedDateRange(t *testing.T) {
	router := setupRouter(&searchStore{records: seedRecords()})

	w := doSearch(t, router, "alice", `{"dateRange":{"start":"2025-06-02T00:00:00Z","end":"2025-06-01T00:00:00Z"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "dateRange")
}

func TestSearch_MalformedBody(t *testing.T) {
	router := setupRouter(&searchStore{})

	w := doSearch(t, router, "alice", `{"limit":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestSearch_StoreUnavailable(t *testing.T) {
	store := &searchStore{err: &registrystore.UnavailableError{Cause: context.DeadlineExceeded}}
	router := setupRouter(store)

	w := doSearch(t, router, "alice", `{}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "store_unavailable")
}
