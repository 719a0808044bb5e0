package metrics

import (
	"context"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ConversationStore that records StoreLatency for every operation.
func Wrap(inner store.ConversationStore) store.ConversationStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ConversationStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateConversation(ctx context.Context, userID string, req store.CreateConversationRequest) (*store.ConversationRecord, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, userID, req)
}

func (m *metricsStore) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*store.ConversationRecord, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, userID, conversationID)
}

func (m *metricsStore) UpdateConversation(ctx context.Context, userID string, conversationID uuid.UUID, update store.ConversationUpdate) (*store.ConversationRecord, error) {
	defer observe("update_conversation", time.Now())
	return m.inner.UpdateConversation(ctx, userID, conversationID, update)
}

func (m *metricsStore) DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	defer observe("delete_conversation", time.Now())
	return m.inner.DeleteConversation(ctx, userID, conversationID)
}

func (m *metricsStore) FetchUserConversationsWithBranching(ctx context.Context, userID string, limit int) ([]model.Conversation, error) {
	defer observe("fetch_conversations_with_branching", time.Now())
	return m.inner.FetchUserConversationsWithBranching(ctx, userID, limit)
}

func (m *metricsStore) SearchUserConversations(ctx context.Context, userID string, filters store.SearchFilters) (*store.SearchPage, error) {
	defer observe("search_conversations", time.Now())
	return m.inner.SearchUserConversations(ctx, userID, filters)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return m.inner.Ping(ctx)
}
