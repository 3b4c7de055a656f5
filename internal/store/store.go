// Package store persists conversations and usage records. Two
// implementations exist: a PostgreSQL store for production and an
// in-memory store for development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"llmbridge/internal/models"
)

// ErrNotFound indicates the conversation does not exist or belongs to a
// different user.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one persisted chat thread.
type Conversation struct {
	ID        int64
	UserID    int64
	Title     string
	Model     string
	Provider  models.Provider
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one stored message belonging to a conversation.
type Turn struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	Tokens         int
	CreatedAt      time.Time
}

// UsageRecord is one row of token accounting for a completed call.
type UsageRecord struct {
	UserID         int64
	ConversationID int64
	Model          string
	Provider       models.Provider
	Usage          models.Usage
	Cost           float64
	ResponseTime   time.Duration
	CreatedAt      time.Time
}

// ConversationStore is the persistence boundary the orchestrator talks
// to. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Create inserts the conversation and fills in its ID.
	Create(ctx context.Context, conv *Conversation) error

	// Get fetches a conversation scoped to its owner.
	Get(ctx context.Context, id, userID int64) (*Conversation, error)

	// Messages returns up to limit most recent turns, oldest first.
	// limit <= 0 means no limit.
	Messages(ctx context.Context, conversationID int64, limit int) ([]Turn, error)

	// AppendMessage adds one turn to a conversation.
	AppendMessage(ctx context.Context, conversationID int64, role, content string, tokens int) error

	// List returns the user's conversations, most recent first.
	List(ctx context.Context, userID int64, offset, limit int) ([]Conversation, error)

	// Delete removes a conversation and its turns.
	Delete(ctx context.Context, id, userID int64) error
}

// UsageStore records per-call token accounting.
type UsageStore interface {
	Record(ctx context.Context, rec UsageRecord) error
}
