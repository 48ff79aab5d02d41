// Package store defines the persistence port for conversation state and
// history, plus an in-memory implementation.
package store

import (
	"context"
	"errors"

	"github.com/simonlevelai/askeve-core/internal/model"
)

// ErrConversationNotFound is returned when a conversation id is unknown to
// the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore persists conversation state and message history. Schema
// ownership stays with the implementation; callers only see model types.
type ConversationStore interface {
	// CreateConversation records a new conversation. Creating an existing
	// id is a no-op.
	CreateConversation(ctx context.Context, state *model.ConversationState) error

	// AddMessage appends a message to a conversation's history and returns
	// its store sequence.
	AddMessage(ctx context.Context, msg *model.ConversationMessage) (uint64, error)

	// GetConversationMessages returns up to limit messages in insertion
	// order.
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error)
}
