// Package state owns per-conversation dialog state and message history, and
// validates topic transitions.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/store"
	"github.com/simonlevelai/askeve-core/pkg/logger"
	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

// ErrStateNotFound is returned when a conversation id is unknown to the
// manager. Callers must create state first.
var ErrStateNotFound = errors.New("conversation state not found")

// Config holds state manager tunables.
type Config struct {
	// SessionTimeout is how long an idle conversation survives before the
	// sweeper removes it.
	SessionTimeout time.Duration

	// HistoryLimit bounds the in-memory message window per conversation.
	HistoryLimit int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout: 30 * time.Minute,
		HistoryLimit:   50,
	}
}

// Manager is the exclusive owner of ConversationState. All reads return
// copies; all writes go through its API.
type Manager struct {
	cfg    Config
	store  store.ConversationStore
	logger *logger.Logger

	mu        sync.RWMutex
	states    map[string]*model.ConversationState
	histories map[string][]model.ConversationMessage

	// now is injected so tests can drive time deterministically.
	now func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a state manager backed by the given store.
func NewManager(cfg Config, st store.ConversationStore, log *logger.Logger) *Manager {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Manager{
		cfg:       cfg,
		store:     st,
		logger:    log,
		states:    make(map[string]*model.ConversationState),
		histories: make(map[string][]model.ConversationMessage),
		now:       time.Now,
	}
}

// SetClock replaces the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// GetOrCreateState returns the state for a conversation, creating it on the
// first turn. Idempotent within the session timeout window. The store
// publish happens outside the lock so a slow persist cannot stall other
// conversations' turns.
func (m *Manager) GetOrCreateState(ctx context.Context, conversationID, userID, sessionID string) (*model.ConversationState, error) {
	m.mu.RLock()
	if st, ok := m.states[conversationID]; ok {
		copied := cloneState(st)
		m.mu.RUnlock()
		return &copied, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if st, ok := m.states[conversationID]; ok {
		// Another turn created it between the read and write locks.
		copied := cloneState(st)
		m.mu.Unlock()
		return &copied, nil
	}

	now := m.now()
	st := &model.ConversationState{
		ConversationID: conversationID,
		UserID:         userID,
		SessionID:      sessionID,
		CurrentTopic:   model.TopicConversationStart,
		CurrentStage:   model.StageGreeting,
		ConsentStatus:  model.ConsentUnknown,
		TopicHistory:   []model.Topic{model.TopicConversationStart},
		CreatedAt:      now,
		LastActivity:   now,
	}
	m.states[conversationID] = st
	m.histories[conversationID] = nil
	metrics.ActiveConversations.Inc()
	copied := cloneState(st)
	persist := cloneState(st)
	m.mu.Unlock()

	if err := m.store.CreateConversation(ctx, &persist); err != nil {
		m.logger.Warn("failed to persist new conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	m.logger.Info("conversation state created",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
	)

	return &copied, nil
}

// GetState returns a copy of the state for a known conversation.
func (m *Manager) GetState(conversationID string) (*model.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, conversationID)
	}
	copied := cloneState(st)
	return &copied, nil
}

// UpdateState merges partial fields into the state and bumps lastActivity.
func (m *Manager) UpdateState(ctx context.Context, conversationID string, update model.StateUpdate) (*model.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, conversationID)
	}

	if update.Stage != nil {
		st.CurrentStage = *update.Stage
	}
	if update.ConsentStatus != nil {
		st.ConsentStatus = *update.ConsentStatus
	}
	if update.Metadata != nil {
		if st.Metadata == nil {
			st.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			st.Metadata[k] = v
		}
	}
	st.LastActivity = m.now()

	copied := cloneState(st)
	return &copied, nil
}

// TransitionToTopic attempts a topic transition. A target outside the
// allow-list is rejected and the state left unchanged; rejections are
// reported, never silently applied.
func (m *Manager) TransitionToTopic(ctx context.Context, conversationID string, newTopic model.Topic, newStage model.Stage) (*model.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, conversationID)
	}

	if !TransitionAllowed(st.CurrentTopic, newTopic) {
		m.logger.Warn("topic transition rejected",
			zap.String("conversation_id", conversationID),
			zap.String("from", string(st.CurrentTopic)),
			zap.String("to", string(newTopic)),
		)
		return &model.TransitionResult{
			Success:  false,
			NewTopic: st.CurrentTopic,
			NewStage: st.CurrentStage,
			Error:    fmt.Sprintf("transition %s -> %s not allowed", st.CurrentTopic, newTopic),
		}, nil
	}

	if newTopic != st.CurrentTopic {
		st.TopicHistory = append(st.TopicHistory, newTopic)
	}
	st.CurrentTopic = newTopic
	st.CurrentStage = newStage
	st.LastActivity = m.now()

	return &model.TransitionResult{
		Success:            true,
		NewTopic:           newTopic,
		NewStage:           newStage,
		RequiresUserAction: newTopic == model.TopicMultipleTopics,
	}, nil
}

// AddMessage appends a message to the conversation history, trims the window
// and increments the message count.
func (m *Manager) AddMessage(ctx context.Context, conversationID, text string, isUser bool, metadata map[string]string) (*model.ConversationMessage, error) {
	m.mu.Lock()

	st, ok := m.states[conversationID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, conversationID)
	}

	msg := model.ConversationMessage{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Text:           text,
		IsUser:         isUser,
		Topic:          st.CurrentTopic,
		Stage:          st.CurrentStage,
		CreatedAt:      m.now(),
		Metadata:       metadata,
	}

	history := append(m.histories[conversationID], msg)
	if len(history) > m.cfg.HistoryLimit {
		history = history[len(history)-m.cfg.HistoryLimit:]
	}
	m.histories[conversationID] = history

	st.MessageCount++
	st.LastActivity = msg.CreatedAt
	m.mu.Unlock()

	if _, err := m.store.AddMessage(ctx, &msg); err != nil {
		m.logger.Warn("failed to persist message",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	return &msg, nil
}

// History returns a copy of the bounded in-memory message window.
func (m *Manager) History(conversationID string) []model.ConversationMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.histories[conversationID]
	out := make([]model.ConversationMessage, len(history))
	copy(out, history)
	return out
}

// Sweep removes state whose lastActivity exceeds the session timeout and
// returns how many conversations were reaped. This is the only destructor
// path.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.SessionTimeout)
	reaped := 0
	for id, st := range m.states {
		if st.LastActivity.Before(cutoff) {
			delete(m.states, id)
			delete(m.histories, id)
			reaped++
		}
	}

	if reaped > 0 {
		metrics.ActiveConversations.Sub(float64(reaped))
		m.logger.Info("swept stale conversations", zap.Int("reaped", reaped))
	}
	return reaped
}

// StartSweeper runs Sweep on the given interval until Stop is called.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})

	ticker := time.NewTicker(interval)
	go func() {
		defer close(m.sweepDone)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

// Stop stops the background sweeper and waits for it to finish.
func (m *Manager) Stop() {
	if m.sweepStop != nil {
		close(m.sweepStop)
		<-m.sweepDone
	}
}

func cloneState(st *model.ConversationState) model.ConversationState {
	copied := *st
	copied.TopicHistory = append([]model.Topic(nil), st.TopicHistory...)
	if st.Metadata != nil {
		copied.Metadata = make(map[string]string, len(st.Metadata))
		for k, v := range st.Metadata {
			copied.Metadata[k] = v
		}
	}
	return copied
}
