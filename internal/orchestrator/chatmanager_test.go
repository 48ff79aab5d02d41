package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/protocol"
	"github.com/simonlevelai/askeve-core/pkg/logger"
)

// stubAgent scripts Handle behavior per payload type.
type stubAgent struct {
	id     string
	role   model.AgentRole
	handle func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error)

	mu       sync.Mutex
	payloads []any
}

func (a *stubAgent) ID() string            { return a.id }
func (a *stubAgent) Role() model.AgentRole { return a.role }

func (a *stubAgent) Handle(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	a.mu.Lock()
	a.payloads = append(a.payloads, msg.Payload)
	a.mu.Unlock()
	return a.handle(ctx, msg)
}

func (a *stubAgent) sawPayload(match func(any) bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.payloads {
		if match(p) {
			return true
		}
	}
	return false
}

func ackAll(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	return &model.AgentResult{Text: "ok"}, nil
}

func safeVerdict(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	if _, ok := msg.Payload.(protocol.SafetyCheckPayload); ok {
		return &model.AgentResult{Safety: &model.SafetyVerdict{Severity: "none"}}, nil
	}
	return &model.AgentResult{Text: "ok"}, nil
}

func crisisVerdict(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	if _, ok := msg.Payload.(protocol.SafetyCheckPayload); ok {
		return &model.AgentResult{Safety: &model.SafetyVerdict{
			ShouldEscalate: true,
			Severity:       "critical",
			EscalationType: "crisis",
		}}, nil
	}
	return &model.AgentResult{Text: "ok"}, nil
}

func newTestMessage(to string) *model.AgentMessage {
	now := time.Now()
	return &model.AgentMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		FromAgent: "test",
		ToAgent:   to,
		Type:      "direct_message",
		Priority:  model.PriorityNormal,
		Timestamp: now,
		ExpiresAt: now.Add(5 * time.Second),
		Payload:   protocol.DirectMessagePayload{Content: "hello"},
	}
}

func TestRegisterAgentRejectsDuplicates(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	require.NoError(t, cm.RegisterAgent(&stubAgent{id: "a", role: model.RoleSafety, handle: ackAll}))
	assert.Error(t, cm.RegisterAgent(&stubAgent{id: "a", role: model.RoleSafety, handle: ackAll}))
	assert.Len(t, cm.ActiveAgents(), 1)
}

func TestUnregisterAgentPromotesSameRole(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	first := &stubAgent{id: "safety-1", role: model.RoleSafety, handle: safeVerdict}
	second := &stubAgent{id: "safety-2", role: model.RoleSafety, handle: safeVerdict}
	require.NoError(t, cm.RegisterAgent(first))
	require.NoError(t, cm.RegisterAgent(second))

	cm.UnregisterAgent("safety-1")

	a, ok := cm.agentForRole(model.RoleSafety)
	require.True(t, ok)
	assert.Equal(t, "safety-2", a.ID())
}

func TestRouteMessageUnknownAgent(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	resp := cm.RouteMessage(context.Background(), newTestMessage("ghost"))
	assert.False(t, resp.Success)
	assert.True(t, resp.FallbackRequired)
	assert.Contains(t, resp.Error, "unknown agent")
}

func TestRouteMessageInvalidEnvelope(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())
	require.NoError(t, cm.RegisterAgent(&stubAgent{id: "a", role: model.RoleSafety, handle: ackAll}))

	msg := newTestMessage("a")
	msg.ExpiresAt = msg.Timestamp // violates expiry-after-creation

	resp := cm.RouteMessage(context.Background(), msg)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid agent message", resp.Error)
}

func TestRouteMessageTimeout(t *testing.T) {
	cm := NewChatManager(Config{CallTimeout: 50 * time.Millisecond}, logger.NewNop())

	slow := &stubAgent{id: "slow", role: model.RoleContent, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	require.NoError(t, cm.RegisterAgent(slow))

	resp := cm.RouteMessage(context.Background(), newTestMessage("slow"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "timed out")
}

func TestRouteMessagePanicRecovered(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	angry := &stubAgent{id: "angry", role: model.RoleContent, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		panic("boom")
	}}
	require.NoError(t, cm.RegisterAgent(angry))

	resp := cm.RouteMessage(context.Background(), newTestMessage("angry"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "agent panic")
}

func TestRouteMessageErrorsTrackedInStats(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	flaky := &stubAgent{id: "flaky", role: model.RoleContent, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		return nil, errors.New("lookup failed")
	}}
	require.NoError(t, cm.RegisterAgent(flaky))

	cm.RouteMessage(context.Background(), newTestMessage("flaky"))
	cm.RouteMessage(context.Background(), newTestMessage("flaky"))

	stats := cm.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Messages)
	assert.Equal(t, 2, stats[0].Errors)
	assert.InDelta(t, 1.0, stats[0].ErrorRate, 1e-9)
}

func TestOrchestrateWithoutSafetyAgent(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())
	require.NoError(t, cm.RegisterAgent(&stubAgent{id: "content", role: model.RoleContent, handle: ackAll}))

	_, err := cm.OrchestrateConversation(context.Background(), "hello", TurnContext{ConversationID: "conv-1"})
	assert.ErrorIs(t, err, ErrSafetyUnavailable)
}

func TestOrchestrateSafetyAgentFailing(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	broken := &stubAgent{id: "safety", role: model.RoleSafety, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		return nil, errors.New("classifier offline")
	}}
	require.NoError(t, cm.RegisterAgent(broken))

	_, err := cm.OrchestrateConversation(context.Background(), "hello", TurnContext{ConversationID: "conv-1"})
	assert.ErrorIs(t, err, ErrSafetyUnavailable)
}

func TestOrchestrateCrisisShortCircuits(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	safety := &stubAgent{id: "safety", role: model.RoleSafety, handle: crisisVerdict}
	content := &stubAgent{id: "content", role: model.RoleContent, handle: ackAll}
	escal := &stubAgent{id: "escalation", role: model.RoleEscalation, handle: ackAll}
	require.NoError(t, cm.RegisterAgent(safety))
	require.NoError(t, cm.RegisterAgent(content))
	require.NoError(t, cm.RegisterAgent(escal))

	resp, err := cm.OrchestrateConversation(context.Background(), "I can't cope", TurnContext{ConversationID: "conv-1"})
	require.NoError(t, err)
	require.NotNil(t, resp.Result.Safety)
	assert.True(t, resp.Result.Safety.ShouldEscalate)

	// Everyone hears the crisis broadcast, but no content lookup happens.
	assert.True(t, content.sawPayload(func(p any) bool {
		_, ok := p.(protocol.CrisisAlertPayload)
		return ok
	}))
	assert.False(t, content.sawPayload(func(p any) bool {
		_, ok := p.(protocol.ContentHandoffPayload)
		return ok
	}))
	assert.False(t, escal.sawPayload(func(p any) bool {
		_, ok := p.(protocol.EscalationHandoffPayload)
		return ok
	}))
}

func TestOrchestrateContentFailureDegradesToFallback(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	safety := &stubAgent{id: "safety", role: model.RoleSafety, handle: safeVerdict}
	content := &stubAgent{id: "content", role: model.RoleContent, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		return nil, errors.New("search backend down")
	}}
	require.NoError(t, cm.RegisterAgent(safety))
	require.NoError(t, cm.RegisterAgent(content))

	resp, err := cm.OrchestrateConversation(context.Background(), "what is HPV?", TurnContext{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.FallbackRequired)
	assert.NotEmpty(t, resp.Result.Text)

	// Retries come from the handoff protocol's budget.
	assert.Equal(t, 3, func() int {
		content.mu.Lock()
		defer content.mu.Unlock()
		n := 0
		for _, p := range content.payloads {
			if _, ok := p.(protocol.ContentHandoffPayload); ok {
				n++
			}
		}
		return n
	}())
}

func TestOrchestrateEscalationAggregation(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	safety := &stubAgent{id: "safety", role: model.RoleSafety, handle: safeVerdict}
	content := &stubAgent{id: "content", role: model.RoleContent, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		if _, ok := msg.Payload.(protocol.ContentHandoffPayload); ok {
			return &model.AgentResult{
				Text: "vetted answer",
				Content: &model.ContentResult{
					Found:                 true,
					Content:               "vetted answer",
					Source:                "NHS",
					SourceURL:             "https://example.org",
					EscalationRecommended: true,
					MedicalCategory:       "cancer_symptoms",
				},
			}, nil
		}
		return &model.AgentResult{Text: "ok"}, nil
	}}
	escal := &stubAgent{id: "escalation", role: model.RoleEscalation, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		if _, ok := msg.Payload.(protocol.EscalationHandoffPayload); ok {
			return &model.AgentResult{
				Text:       "A specialist nurse will follow up with you.",
				Escalation: &model.EscalationResult{EscalationID: "esc-1", Notified: true},
			}, nil
		}
		return &model.AgentResult{Text: "ok"}, nil
	}}
	require.NoError(t, cm.RegisterAgent(safety))
	require.NoError(t, cm.RegisterAgent(content))
	require.NoError(t, cm.RegisterAgent(escal))

	resp, err := cm.OrchestrateConversation(context.Background(), "symptoms of ovarian cancer", TurnContext{ConversationID: "conv-1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Result.Escalation)
	assert.True(t, resp.Result.Escalation.Notified)
	assert.Contains(t, resp.Result.Text, "vetted answer")
	assert.Contains(t, resp.Result.Text, "specialist nurse")
}

func TestCoordinateHandoff(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())

	escal := &stubAgent{id: "escalation", role: model.RoleEscalation, handle: ackAll}
	require.NoError(t, cm.RegisterAgent(escal))

	resp, err := cm.CoordinateHandoff(context.Background(), "content", "escalation", protocol.EscalationHandoffPayload{
		Query:            "symptoms",
		ContentFound:     true,
		EscalationNeeded: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestInitiateGroupChatCapped(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())
	agents := make(map[string]*stubAgent)
	for _, id := range []string{"a", "b", "c", "d"} {
		a := &stubAgent{id: id, role: model.RoleContent, handle: ackAll}
		agents[id] = a
		require.NoError(t, cm.RegisterAgent(a))
	}

	_, _, err := cm.InitiateGroupChat(context.Background(), []string{"a", "b", "c", "d"}, nil)
	assert.ErrorIs(t, err, ErrGroupTooLarge)

	channel, resp, err := cm.InitiateGroupChat(context.Background(), []string{"a", "b", "c"}, map[string]string{"reason": "case review"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	assert.True(t, channel.Active)
	assert.Equal(t, string(protocol.ProtocolGroupCoordination), channel.Protocol)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, channel.Participants)
	assert.Equal(t, 10*time.Second, channel.Timeout)

	// The coordination payload itself reaches each named participant;
	// nobody outside the group hears it.
	isCoordination := func(p any) bool {
		_, ok := p.(protocol.GroupCoordinationPayload)
		return ok
	}
	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, agents[id].sawPayload(isCoordination), "participant %s missed the coordination payload", id)
	}
	assert.False(t, agents["d"].sawPayload(isCoordination))
}

func TestRouteMessageExpired(t *testing.T) {
	cm := NewChatManager(Config{}, logger.NewNop())
	a := &stubAgent{id: "a", role: model.RoleContent, handle: ackAll}
	require.NoError(t, cm.RegisterAgent(a))

	msg := newTestMessage("a")
	msg.Timestamp = time.Now().Add(-2 * time.Minute)
	msg.ExpiresAt = time.Now().Add(-time.Minute)

	resp := cm.RouteMessage(context.Background(), msg)
	assert.False(t, resp.Success)
	assert.Equal(t, "message expired", resp.Error)
	assert.False(t, a.sawPayload(func(any) bool { return true }), "expired message must not reach the agent")
}

func TestPipelineConfigControlsStages(t *testing.T) {
	cm := NewChatManager(Config{
		Pipeline: []Stage{
			{Role: model.RoleSafety},
			{Role: model.RoleContent, Requires: model.RoleSafety},
		},
	}, logger.NewNop())

	safety := &stubAgent{id: "safety", role: model.RoleSafety, handle: safeVerdict}
	content := &stubAgent{id: "content", role: model.RoleContent, handle: func(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
		if _, ok := msg.Payload.(protocol.ContentHandoffPayload); ok {
			return &model.AgentResult{
				Text: "vetted answer",
				Content: &model.ContentResult{
					Found:                 true,
					Content:               "vetted answer",
					SourceURL:             "https://example.org",
					EscalationRecommended: true,
				},
			}, nil
		}
		return &model.AgentResult{Text: "ok"}, nil
	}}
	escal := &stubAgent{id: "escalation", role: model.RoleEscalation, handle: ackAll}
	require.NoError(t, cm.RegisterAgent(safety))
	require.NoError(t, cm.RegisterAgent(content))
	require.NoError(t, cm.RegisterAgent(escal))

	resp, err := cm.OrchestrateConversation(context.Background(), "symptoms", TurnContext{ConversationID: "conv-1"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	// The escalation stage is absent from this pipeline, so even a
	// recommended escalation never runs.
	assert.Nil(t, resp.Result.Escalation)
	assert.False(t, escal.sawPayload(func(p any) bool {
		_, ok := p.(protocol.EscalationHandoffPayload)
		return ok
	}))
}

func TestPipelineStageRequiresGating(t *testing.T) {
	cm := NewChatManager(Config{
		Pipeline: []Stage{{Role: model.RoleContent, Requires: model.RoleSafety}},
	}, logger.NewNop())

	content := &stubAgent{id: "content", role: model.RoleContent, handle: ackAll}
	require.NoError(t, cm.RegisterAgent(content))

	// No stage produces the safety verdict the content stage requires, so
	// the turn yields no checked response at all.
	_, err := cm.OrchestrateConversation(context.Background(), "hello", TurnContext{ConversationID: "conv-1"})
	assert.ErrorIs(t, err, ErrSafetyUnavailable)
	assert.False(t, content.sawPayload(func(any) bool { return true }))
}
