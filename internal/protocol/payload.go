package protocol

import (
	"github.com/simonlevelai/askeve-core/internal/model"
)

// Protocol names a pre-configured delivery contract between responders.
type Protocol string

const (
	ProtocolSafetyCheck         Protocol = "safety_check"
	ProtocolCrisisBroadcast     Protocol = "crisis_broadcast"
	ProtocolSafetyToContent     Protocol = "safety_to_content"
	ProtocolContentToEscalation Protocol = "content_to_escalation"
	ProtocolEscalationHandoff   Protocol = "escalation_handoff"
	ProtocolGroupCoordination   Protocol = "group_coordination"
	ProtocolStatusUpdate        Protocol = "status_update"
	ProtocolDirectMessage       Protocol = "direct_message"
)

// Payload is the closed set of protocol message bodies. One variant per
// protocol, so handlers can switch exhaustively on the concrete type
// instead of casting untyped maps.
type Payload interface {
	Protocol() Protocol
}

// SafetyCheckPayload asks the safety responder to classify a message.
type SafetyCheckPayload struct {
	Text    string                      `json:"text"`
	History []model.ConversationMessage `json:"history,omitempty"`
}

func (SafetyCheckPayload) Protocol() Protocol { return ProtocolSafetyCheck }

// CrisisAlertPayload fans a crisis signal out to every active responder.
type CrisisAlertPayload struct {
	ConversationID string `json:"conversation_id"`
	Severity       string `json:"severity"`
	EscalationType string `json:"escalation_type,omitempty"`
}

func (CrisisAlertPayload) Protocol() Protocol { return ProtocolCrisisBroadcast }

// ContentHandoffPayload forwards a safety-cleared query to the content
// responder.
type ContentHandoffPayload struct {
	Query         string `json:"query"`
	SafetyCleared bool   `json:"safety_cleared"`
	Severity      string `json:"severity,omitempty"`
}

func (ContentHandoffPayload) Protocol() Protocol { return ProtocolSafetyToContent }

// EscalationHandoffPayload forwards a content result that recommends
// escalation to the escalation responder.
type EscalationHandoffPayload struct {
	Query            string `json:"query"`
	ContentFound     bool   `json:"content_found"`
	EscalationNeeded bool   `json:"escalation_needed"`
	MedicalCategory  string `json:"medical_category,omitempty"`
}

func (EscalationHandoffPayload) Protocol() Protocol { return ProtocolContentToEscalation }

// EscalationNoticePayload hands a confirmed escalation to the outbound
// notification path.
type EscalationNoticePayload struct {
	EscalationID string `json:"escalation_id"`
	Severity     string `json:"severity"`
	Urgency      string `json:"urgency"`
	Summary      string `json:"summary"`
}

func (EscalationNoticePayload) Protocol() Protocol { return ProtocolEscalationHandoff }

// GroupCoordinationPayload opens a bounded group session across responders.
type GroupCoordinationPayload struct {
	Topic   string            `json:"topic"`
	Context map[string]string `json:"context,omitempty"`
}

func (GroupCoordinationPayload) Protocol() Protocol { return ProtocolGroupCoordination }

// StatusUpdatePayload announces a responder's health to its peers.
type StatusUpdatePayload struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

func (StatusUpdatePayload) Protocol() Protocol { return ProtocolStatusUpdate }

// DirectMessagePayload carries an ad-hoc point-to-point message.
type DirectMessagePayload struct {
	Content string            `json:"content"`
	Context map[string]string `json:"context,omitempty"`
}

func (DirectMessagePayload) Protocol() Protocol { return ProtocolDirectMessage }
