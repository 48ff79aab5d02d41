// Package model defines data structures for the conversation core.
package model

import (
	"time"
)

// Topic is a named conversational intent bucket driving which handler
// processes a turn.
type Topic string

const (
	TopicConversationStart Topic = "conversation_start"
	TopicCrisisSupport     Topic = "crisis_support"
	TopicHealthInformation Topic = "health_information"
	TopicSymptomChecker    Topic = "symptom_checker"
	TopicScreeningInfo     Topic = "screening_info"
	TopicSupportService    Topic = "support_service"
	TopicMultipleTopics    Topic = "multiple_topics"
	TopicOnError           Topic = "on_error"
	TopicEndOfConversation Topic = "end_of_conversation"
)

// Stage is a sub-phase within a topic used for multi-turn workflows.
type Stage string

const (
	StageGreeting             Stage = "greeting"
	StageInformationGathering Stage = "information_gathering"
	StageConsentCapture       Stage = "consent_capture"
	StageContactCollection    Stage = "contact_collection"
	StageEscalation           Stage = "escalation"
	StageCompletion           Stage = "completion"
)

// ConsentStatus records whether the user has consented to follow-up contact.
type ConsentStatus string

const (
	ConsentUnknown  ConsentStatus = "unknown"
	ConsentGranted  ConsentStatus = "granted"
	ConsentDeclined ConsentStatus = "declined"
)

// ConversationState is the per-conversation dialog state. It is owned
// exclusively by the state manager; other components mutate it only through
// the manager's update API.
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	SessionID      string            `json:"session_id,omitempty"`
	CurrentTopic   Topic             `json:"current_topic"`
	CurrentStage   Stage             `json:"current_stage"`
	ConsentStatus  ConsentStatus     `json:"consent_status"`
	TopicHistory   []Topic           `json:"topic_history"`
	MessageCount   int               `json:"message_count"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivity   time.Time         `json:"last_activity"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// StateUpdate holds the fields a partial update may change. Nil fields are
// left untouched.
type StateUpdate struct {
	Stage         *Stage            `json:"stage,omitempty"`
	ConsentStatus *ConsentStatus    `json:"consent_status,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TransitionResult reports the outcome of a topic transition attempt.
// A rejected transition leaves state unchanged.
type TransitionResult struct {
	Success            bool   `json:"success"`
	NewTopic           Topic  `json:"new_topic"`
	NewStage           Stage  `json:"new_stage"`
	RequiresUserAction bool   `json:"requires_user_action"`
	Error              string `json:"error,omitempty"`
}
