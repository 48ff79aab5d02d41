package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/simonlevelai/askeve-core/internal/model"
)

const (
	// StreamName is the name of the conversations stream.
	StreamName = "ASKEVE_CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"
)

// Store is a JetStream-backed conversation store. One subject tree per
// conversation; messages and escalation events share the stream.
type Store struct {
	client *Client
}

// NewStore creates a JetStream-backed store.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// EnsureStream ensures the conversations stream exists with proper
// configuration.
func (s *Store) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation history and escalation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a conversation message.
func MessageSubject(conversationID string, isUser bool) string {
	role := "assistant"
	if isUser {
		role = "user"
	}
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, role)
}

// StateSubject returns the subject for conversation lifecycle records.
func StateSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.state", SubjectPrefix, conversationID)
}

// EventSubject returns the subject for an escalation or delivery event.
func EventSubject(conversationID, eventType string) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, eventType)
}

// CreateConversation implements store.ConversationStore. The creation record
// is an append like everything else in the stream.
func (s *Store) CreateConversation(ctx context.Context, state *model.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.client.JetStream().Publish(ctx, StateSubject(state.ConversationID), data)
	if err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	return nil
}

// AddMessage implements store.ConversationStore.
func (s *Store) AddMessage(ctx context.Context, msg *model.ConversationMessage) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, MessageSubject(msg.ConversationID, msg.IsUser), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}
	return ack.Sequence, nil
}

// GetConversationMessages implements store.ConversationStore.
func (s *Store) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error) {
	js := s.client.JetStream()

	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	filterSubject := fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, conversationID)
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []model.ConversationMessage
	for raw := range batch.Messages() {
		var msg model.ConversationMessage
		if err := json.Unmarshal(raw.Data(), &msg); err != nil {
			continue
		}
		if meta, err := raw.Metadata(); err == nil {
			msg.Sequence = meta.Sequence.Stream
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// PublishEvent records an escalation or delivery event in the stream.
func (s *Store) PublishEvent(ctx context.Context, conversationID, eventType string, payload any) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, EventSubject(conversationID, eventType), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}
