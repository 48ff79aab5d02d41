package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simonlevelai/askeve-core/internal/escalation"
	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/protocol"
)

// Escalator delivers escalation notices outbound.
type Escalator interface {
	Notify(ctx context.Context, notice escalation.Notice) error
}

// EscalationAgent wraps an Escalator as a registered responder.
type EscalationAgent struct {
	id       string
	notifier Escalator
}

// NewEscalationAgent creates the escalation responder.
func NewEscalationAgent(id string, notifier Escalator) *EscalationAgent {
	return &EscalationAgent{id: id, notifier: notifier}
}

func (a *EscalationAgent) ID() string            { return a.id }
func (a *EscalationAgent) Role() model.AgentRole { return model.RoleEscalation }

// Handle answers escalation handoffs.
func (a *EscalationAgent) Handle(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	switch p := msg.Payload.(type) {
	case protocol.EscalationHandoffPayload:
		notice := escalation.Notice{
			EscalationID:     uuid.Must(uuid.NewV7()).String(),
			Severity:         "high",
			Urgency:          "routine",
			UserID:           msg.Metadata["user_id"],
			Timestamp:        time.Now(),
			Summary:          fmt.Sprintf("escalation recommended for query in category %s", p.MedicalCategory),
			RequiresCallback: true,
		}
		if err := a.notifier.Notify(ctx, notice); err != nil {
			return nil, err
		}
		return &model.AgentResult{
			Escalation: &model.EscalationResult{
				EscalationID: notice.EscalationID,
				Notified:     true,
				Summary:      notice.Summary,
			},
			Text: "A specialist nurse will follow up with you.",
		}, nil
	case protocol.CrisisAlertPayload:
		return &model.AgentResult{Text: "crisis alert acknowledged"}, nil
	case protocol.StatusUpdatePayload, protocol.DirectMessagePayload:
		return &model.AgentResult{Text: "ok"}, nil
	default:
		return nil, fmt.Errorf("unsupported payload for escalation agent: %T", msg.Payload)
	}
}
