// Package agents provides the responder implementations registered with the
// chat manager: safety, content and escalation.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/protocol"
)

// SafetyAnalyzer classifies a message plus recent history for escalation.
type SafetyAnalyzer interface {
	Analyze(ctx context.Context, text string, history []model.ConversationMessage) (*model.SafetyVerdict, error)
}

// SafetyAgent wraps a SafetyAnalyzer as a registered responder.
type SafetyAgent struct {
	id       string
	analyzer SafetyAnalyzer
}

// NewSafetyAgent creates the safety responder.
func NewSafetyAgent(id string, analyzer SafetyAnalyzer) *SafetyAgent {
	return &SafetyAgent{id: id, analyzer: analyzer}
}

func (a *SafetyAgent) ID() string            { return a.id }
func (a *SafetyAgent) Role() model.AgentRole { return model.RoleSafety }

// Handle answers safety checks and acknowledges crisis alerts.
func (a *SafetyAgent) Handle(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	switch p := msg.Payload.(type) {
	case protocol.SafetyCheckPayload:
		verdict, err := a.analyzer.Analyze(ctx, p.Text, p.History)
		if err != nil {
			return nil, err
		}
		return &model.AgentResult{Safety: verdict}, nil
	case protocol.CrisisAlertPayload:
		return &model.AgentResult{Text: "crisis alert acknowledged"}, nil
	case protocol.StatusUpdatePayload, protocol.DirectMessagePayload:
		return &model.AgentResult{Text: "ok"}, nil
	default:
		return nil, fmt.Errorf("unsupported payload for safety agent: %T", msg.Payload)
	}
}

// crisisTriggers are phrases that always escalate. These stand in for the
// real classifier, which is an external collaborator.
var crisisTriggers = []string{
	"end my life",
	"kill myself",
	"suicide",
	"want to die",
	"self harm",
	"hurt myself",
	"overdose",
}

// KeywordSafetyAnalyzer is a trigger-phrase analyzer used as the default
// safety collaborator.
type KeywordSafetyAnalyzer struct{}

// NewKeywordSafetyAnalyzer creates a keyword-based analyzer.
func NewKeywordSafetyAnalyzer() *KeywordSafetyAnalyzer {
	return &KeywordSafetyAnalyzer{}
}

// Analyze implements SafetyAnalyzer.
func (k *KeywordSafetyAnalyzer) Analyze(ctx context.Context, text string, history []model.ConversationMessage) (*model.SafetyVerdict, error) {
	lowered := strings.ToLower(text)
	for _, trigger := range crisisTriggers {
		if strings.Contains(lowered, trigger) {
			return &model.SafetyVerdict{
				ShouldEscalate: true,
				Severity:       "critical",
				EscalationType: "crisis",
			}, nil
		}
	}
	return &model.SafetyVerdict{Severity: "none"}, nil
}

// TriggerMatches returns the crisis phrases found in text, for escalation
// notices.
func TriggerMatches(text string) []string {
	lowered := strings.ToLower(text)
	var matches []string
	for _, trigger := range crisisTriggers {
		if strings.Contains(lowered, trigger) {
			matches = append(matches, trigger)
		}
	}
	return matches
}
