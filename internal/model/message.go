package model

import (
	"time"
)

// ConversationMessage is a single turn entry in a conversation's history.
// Immutable once appended.
type ConversationMessage struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Text           string            `json:"text"`
	IsUser         bool              `json:"is_user"`
	Topic          Topic             `json:"topic"`
	Stage          Stage             `json:"stage"`
	CreatedAt      time.Time         `json:"created_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Sequence is populated by the persistent store on write.
	Sequence uint64 `json:"sequence,omitempty"`
}

// TurnRequest is an inbound user turn handed to the flow engine.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id,omitempty"`
	Text           string `json:"text"`
}

// TurnResult is the outcome of processing one user turn.
type TurnResult struct {
	Response            string `json:"response"`
	Topic               Topic  `json:"topic"`
	Stage               Stage  `json:"stage"`
	EscalationTriggered bool   `json:"escalation_triggered"`
	ConversationEnded   bool   `json:"conversation_ended"`
}
