package model

import (
	"time"

	"github.com/google/uuid"
)

// SortBy selects the attribute conversations are sorted by in search results.
type SortBy string

const (
	SortByDate     SortBy = "date"
	SortByTitle    SortBy = "title"
	SortByMessages SortBy = "messages"
	SortByUpdated  SortBy = "updated"
)

// Valid returns true if the sort key is one of the recognized values.
func (s SortBy) Valid() bool {
	switch s {
	case SortByDate, SortByTitle, SortByMessages, SortByUpdated:
		return true
	}
	return false
}

// SortOrder is the direction of a sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Valid returns true if the sort order is one of the recognized values.
func (s SortOrder) Valid() bool {
	return s == SortAsc || s == SortDesc
}

// Conversation is a single conversation owned by a user. A conversation with
// ParentConversationID set is a branch forked from that parent; branch fields
// (BranchName, BranchOrder, BranchCreatedAt) are only meaningful on branches.
type Conversation struct {
	ID                   uuid.UUID              `json:"id"                             gorm:"primaryKey;type:uuid"`
	OwnerUserID          string                 `json:"ownerUserId"                    gorm:"not null;index"`
	Title                string                 `json:"title"                          gorm:"not null"`
	Model                string                 `json:"model"`
	IsShared             bool                   `json:"isShared"                       gorm:"not null;default:false"`
	ParentConversationID *uuid.UUID             `json:"parentConversationId,omitempty" gorm:"type:uuid;index"`
	BranchName           *string                `json:"branchName,omitempty"`
	BranchOrder          int                    `json:"branchOrder"                    gorm:"not null;default:0"`
	BranchCreatedAt      *time.Time             `json:"branchCreatedAt,omitempty"`
	Tags                 []string               `json:"tags"                           gorm:"type:jsonb;serializer:json;not null;default:'[]'"`
	Metadata             map[string]interface{} `json:"metadata"                       gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt            time.Time              `json:"createdAt"                      gorm:"not null;default:now()"`
	UpdatedAt            time.Time              `json:"updatedAt"                      gorm:"not null;default:now()"`
	DeletedAt            *time.Time             `json:"deletedAt,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

// IsBranch reports whether this conversation was forked from a parent.
// It is derived from ParentConversationID so the two can never disagree.
func (c *Conversation) IsBranch() bool { return c.ParentConversationID != nil }

// Message is a single message within a conversation. The service does not
// expose a message API; the table backs the message-count sort metric and
// free-text content matching in search.
type Message struct {
	ID             uuid.UUID `json:"id"             gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID `json:"conversationId" gorm:"not null;type:uuid;index"`
	Role           string    `json:"role"           gorm:"not null"`
	Content        string    `json:"content"        gorm:"not null"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"not null;default:now()"`
}

func (Message) TableName() string { return "messages" }
