package store

import (
	"context"
	"sync"

	"github.com/simonlevelai/askeve-core/internal/model"
)

// MemoryStore is an in-memory ConversationStore for tests and single-node
// runs.
type MemoryStore struct {
	mu       sync.RWMutex
	known    map[string]bool
	messages map[string][]model.ConversationMessage
	seq      uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		known:    make(map[string]bool),
		messages: make(map[string][]model.ConversationMessage),
	}
}

// CreateConversation implements ConversationStore.
func (s *MemoryStore) CreateConversation(ctx context.Context, state *model.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[state.ConversationID] = true
	return nil
}

// AddMessage implements ConversationStore.
func (s *MemoryStore) AddMessage(ctx context.Context, msg *model.ConversationMessage) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known[msg.ConversationID] {
		return 0, ErrConversationNotFound
	}

	s.seq++
	stored := *msg
	stored.Sequence = s.seq
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], stored)
	return s.seq, nil
}

// GetConversationMessages implements ConversationStore.
func (s *MemoryStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.known[conversationID] {
		return nil, ErrConversationNotFound
	}

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]model.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
