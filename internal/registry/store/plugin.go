package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	"github.com/google/uuid"
)

// ConversationRecord is a conversation annotated with the per-conversation
// message count sourced from the store. It is the unit the search engine
// filters, sorts, and paginates.
type ConversationRecord struct {
	model.Conversation
	MessageCount int64 `json:"messageCount"`
}

// MarshalJSON adds the derived isBranch field to the serialized record.
func (r ConversationRecord) MarshalJSON() ([]byte, error) {
	type Alias ConversationRecord // avoid recursion
	return json.Marshal(struct {
		Alias
		IsBranch bool `json:"isBranch"`
	}{
		Alias:    Alias(r),
		IsBranch: r.IsBranch(),
	})
}

// SearchPage is one page of search results plus pagination metadata.
type SearchPage struct {
	Conversations []ConversationRecord `json:"conversations"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
	HasMore       bool                 `json:"hasMore"`
}

// DateRange filters conversations to [Start, End], inclusive on both ends.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SearchFilters holds every search parameter. All fields are optional except
// Limit, which callers set (to the requested value or the default) before
// calling Normalize exactly once to apply the remaining defaults and validate
// ranges.
type SearchFilters struct {
	Query     string          `json:"searchQuery,omitempty"`
	DateRange *DateRange      `json:"dateRange,omitempty"`
	Models    []string        `json:"models,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	SortBy    model.SortBy    `json:"sortBy,omitempty"`
	SortOrder model.SortOrder `json:"sortOrder,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

const (
	// DefaultSearchLimit is the page size when none is requested.
	DefaultSearchLimit = 20
	// DefaultHierarchyLimit bounds root-level hierarchy entries by default.
	DefaultHierarchyLimit = 50
	// MaxLimit is the largest accepted limit for either entry point.
	MaxLimit = 100
)

// Normalize applies defaults and validates ranges. Callers apply the limit
// default before calling (an absent limit is not the same as an explicit 0,
// which is rejected); out-of-range limits are rejected rather than silently
// clamped. A negative offset is clamped to 0. Returns an InvalidQueryError
// naming the offending field.
func (f *SearchFilters) Normalize() error {
	if f.Limit < 1 || f.Limit > MaxLimit {
		return &InvalidQueryError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.SortBy == "" {
		f.SortBy = model.SortByUpdated
	}
	if !f.SortBy.Valid() {
		return &InvalidQueryError{Field: "sortBy", Message: fmt.Sprintf("unknown sort key %q", f.SortBy)}
	}
	if f.SortOrder == "" {
		f.SortOrder = model.SortDesc
	}
	if !f.SortOrder.Valid() {
		return &InvalidQueryError{Field: "sortOrder", Message: fmt.Sprintf("unknown sort order %q", f.SortOrder)}
	}
	if f.DateRange != nil && f.DateRange.Start.After(f.DateRange.End) {
		return &InvalidQueryError{Field: "dateRange", Message: "start must not be after end"}
	}
	return nil
}

// CreateConversationRequest is the input for creating a conversation. Setting
// ParentConversationID creates a branch of that conversation.
type CreateConversationRequest struct {
	Title                string                 `json:"title"`
	Model                string                 `json:"model"`
	Tags                 []string               `json:"tags"`
	Metadata             map[string]interface{} `json:"metadata"`
	ParentConversationID *uuid.UUID             `json:"parentConversationId,omitempty"`
	BranchName           *string                `json:"branchName,omitempty"`
	BranchOrder          *int                   `json:"branchOrder,omitempty"`
}

// ConversationUpdate defines the mutable conversation fields. Nil means
// "leave unchanged".
type ConversationUpdate struct {
	Title      *string
	Model      *string
	IsShared   *bool
	BranchName *string
	Tags       []string
	Metadata   map[string]interface{}
}

// ConversationStore is the repository abstraction over persisted
// conversations. Every operation is scoped to one owner; implementations must
// never return another user's conversations.
type ConversationStore interface {
	// Mutations
	CreateConversation(ctx context.Context, userID string, req CreateConversationRequest) (*ConversationRecord, error)
	GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*ConversationRecord, error)
	UpdateConversation(ctx context.Context, userID string, conversationID uuid.UUID, update ConversationUpdate) (*ConversationRecord, error)
	DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error

	// FetchUserConversationsWithBranching returns the owner's conversations
	// with branch fields populated, for hierarchy assembly. limit > 0 caps the
	// number of rows fetched as a defensive bound; 0 means no cap.
	FetchUserConversationsWithBranching(ctx context.Context, userID string, limit int) ([]model.Conversation, error)

	// SearchUserConversations applies the free-text predicate in the store's
	// own query and delegates the remaining filter/sort/window steps to the
	// search engine. filters must already be normalized.
	SearchUserConversations(ctx context.Context, userID string, filters SearchFilters) (*SearchPage, error)

	// Ping verifies store connectivity for readiness checks.
	Ping(ctx context.Context) error
}

// Loader creates a ConversationStore from config.
type Loader func(ctx context.Context) (ConversationStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
