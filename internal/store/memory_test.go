package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonlevelai/askeve-core/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &model.ConversationState{ConversationID: "conv-1"}))

	for i := 0; i < 3; i++ {
		seq, err := s.AddMessage(ctx, &model.ConversationMessage{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Text:           fmt.Sprintf("message %d", i),
			IsUser:         i%2 == 0,
			CreatedAt:      time.Now(),
		})
		require.NoError(t, err)
		assert.EqualValues(t, i+1, seq)
	}

	msgs, err := s.GetConversationMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "message 0", msgs[0].Text)
	assert.EqualValues(t, 3, msgs[2].Sequence)
}

func TestMemoryStoreLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &model.ConversationState{ConversationID: "conv-1"}))
	for i := 0; i < 5; i++ {
		_, err := s.AddMessage(ctx, &model.ConversationMessage{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Text:           fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	msgs, err := s.GetConversationMessages(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "message 3", msgs[0].Text)
	assert.Equal(t, "message 4", msgs[1].Text)
}

func TestMemoryStoreUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.AddMessage(ctx, &model.ConversationMessage{ConversationID: "missing"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = s.GetConversationMessages(ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemoryStoreCreateIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &model.ConversationState{ConversationID: "conv-1"}))
	require.NoError(t, s.CreateConversation(ctx, &model.ConversationState{ConversationID: "conv-1"}))

	_, err := s.AddMessage(ctx, &model.ConversationMessage{ID: "msg-1", ConversationID: "conv-1"})
	assert.NoError(t, err)
}
