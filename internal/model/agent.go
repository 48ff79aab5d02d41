package model

import (
	"time"
)

// AgentRole identifies a responder's position in the safety-first pipeline.
type AgentRole string

const (
	RoleSafety     AgentRole = "safety"
	RoleContent    AgentRole = "content"
	RoleEscalation AgentRole = "escalation"
)

// Priority orders agent message delivery.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Broadcast is the sentinel recipient for fan-out messages.
const Broadcast = "*"

// AgentMessage is the typed envelope exchanged between responders.
// ExpiresAt must be strictly after Timestamp.
type AgentMessage struct {
	ID        string            `json:"id"`
	FromAgent string            `json:"from_agent"`
	ToAgent   string            `json:"to_agent"`
	Type      string            `json:"type"`
	Priority  Priority          `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	ExpiresAt time.Time         `json:"expires_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Payload carries the protocol-tagged body. Its concrete type is one
	// of the protocol package's payload variants.
	Payload any `json:"payload"`
}

// Valid reports whether the envelope satisfies its invariants.
func (m *AgentMessage) Valid() bool {
	return m.ID != "" && m.FromAgent != "" && m.ToAgent != "" &&
		m.ExpiresAt.After(m.Timestamp)
}

// Expired reports whether the message has passed its expiry.
func (m *AgentMessage) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// AgentResult is the structured outcome of an agent call. Exactly one of the
// role-specific sections is set for a successful response.
type AgentResult struct {
	Text       string            `json:"text,omitempty"`
	Safety     *SafetyVerdict    `json:"safety,omitempty"`
	Content    *ContentResult    `json:"content,omitempty"`
	Escalation *EscalationResult `json:"escalation,omitempty"`
}

// SafetyVerdict is the safety responder's classification of a turn.
type SafetyVerdict struct {
	ShouldEscalate bool   `json:"should_escalate"`
	Severity       string `json:"severity"`
	EscalationType string `json:"escalation_type,omitempty"`
}

// ContentResult is the content responder's lookup outcome. Found content
// without a source URL must be treated as not usable.
type ContentResult struct {
	Found                 bool    `json:"found"`
	Content               string  `json:"content,omitempty"`
	Source                string  `json:"source,omitempty"`
	SourceURL             string  `json:"source_url,omitempty"`
	RelevanceScore        float64 `json:"relevance_score,omitempty"`
	EscalationRecommended bool    `json:"escalation_recommended,omitempty"`
	MedicalCategory       string  `json:"medical_category,omitempty"`
}

// Usable reports whether the result can be quoted to a user.
func (r *ContentResult) Usable() bool {
	return r != nil && r.Found && r.SourceURL != ""
}

// EscalationResult is the escalation responder's outcome.
type EscalationResult struct {
	EscalationID string `json:"escalation_id"`
	Notified     bool   `json:"notified"`
	Summary      string `json:"summary,omitempty"`
}

// AgentResponse is the non-throwing result of delivering an AgentMessage.
// Failures are reported through Success/Error, never by panicking across
// the orchestration boundary.
type AgentResponse struct {
	MessageID        string        `json:"message_id"`
	AgentID          string        `json:"agent_id"`
	Success          bool          `json:"success"`
	ResponseTime     time.Duration `json:"response_time"`
	Result           *AgentResult  `json:"result,omitempty"`
	Error            string        `json:"error,omitempty"`
	FallbackRequired bool          `json:"fallback_required,omitempty"`
}

// CommunicationChannel is a standing delivery configuration between
// responders, not a live connection.
type CommunicationChannel struct {
	ID           string        `json:"id"`
	Protocol     string        `json:"protocol"`
	Participants []string      `json:"participants"`
	Priority     Priority      `json:"priority"`
	Timeout      time.Duration `json:"timeout"`
	RetryCount   int           `json:"retry_count"`
	Active       bool          `json:"active"`
}
