package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonlevelai/askeve-core/internal/escalation"
	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/protocol"
)

func TestKeywordSafetyAnalyzer(t *testing.T) {
	tests := []struct {
		text     string
		escalate bool
	}{
		{"I want to end my life", true},
		{"I've been thinking about suicide", true},
		{"sometimes I want to hurt myself", true},
		{"What are the symptoms of ovarian cancer?", false},
		{"my life has been stressful lately", false},
		{"", false},
	}

	analyzer := NewKeywordSafetyAnalyzer()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			verdict, err := analyzer.Analyze(context.Background(), tt.text, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.escalate, verdict.ShouldEscalate)
			if tt.escalate {
				assert.Equal(t, "critical", verdict.Severity)
				assert.Equal(t, "crisis", verdict.EscalationType)
			}
		})
	}
}

func TestTriggerMatches(t *testing.T) {
	matches := TriggerMatches("I want to end my life, I might overdose")
	assert.ElementsMatch(t, []string{"end my life", "overdose"}, matches)

	assert.Empty(t, TriggerMatches("tell me about screening"))
}

func TestSafetyAgentHandlesCheckPayload(t *testing.T) {
	agent := NewSafetyAgent("safety-agent", NewKeywordSafetyAnalyzer())
	assert.Equal(t, model.RoleSafety, agent.Role())

	result, err := agent.Handle(context.Background(), envelope("safety-agent", protocol.SafetyCheckPayload{
		Text: "I want to end my life",
	}))
	require.NoError(t, err)
	require.NotNil(t, result.Safety)
	assert.True(t, result.Safety.ShouldEscalate)
}

func TestSafetyAgentRejectsForeignPayload(t *testing.T) {
	agent := NewSafetyAgent("safety-agent", NewKeywordSafetyAnalyzer())

	_, err := agent.Handle(context.Background(), envelope("safety-agent", protocol.ContentHandoffPayload{Query: "x"}))
	assert.Error(t, err)
}

func TestLibrarySearcherPicksBestMatch(t *testing.T) {
	s := NewLibrarySearcher([]LibraryEntry{
		{Keywords: []string{"ovarian", "cancer"}, Content: "ovarian info", Source: "NHS", SourceURL: "https://example.org/ovarian"},
		{Keywords: []string{"cervical", "screening"}, Content: "screening info", Source: "NHS", SourceURL: "https://example.org/screening"},
	})

	result, err := s.Search(context.Background(), "ovarian cancer symptoms")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, "ovarian info", result.Content)
	assert.True(t, result.Usable())
	assert.InDelta(t, 1.0, result.RelevanceScore, 1e-9)
}

func TestLibrarySearcherNoMatch(t *testing.T) {
	s := NewLibrarySearcher([]LibraryEntry{
		{Keywords: []string{"ovarian"}, Content: "x", Source: "NHS", SourceURL: "https://example.org"},
	})

	result, err := s.Search(context.Background(), "completely unrelated question")
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.False(t, result.Usable())
}

func TestContentResultWithoutSourceNotUsable(t *testing.T) {
	r := &model.ContentResult{Found: true, Content: "something"}
	assert.False(t, r.Usable())
}

type fakeEscalator struct {
	notices []escalation.Notice
}

func (f *fakeEscalator) Notify(ctx context.Context, notice escalation.Notice) error {
	f.notices = append(f.notices, notice)
	return nil
}

func TestEscalationAgentNotifies(t *testing.T) {
	esc := &fakeEscalator{}
	agent := NewEscalationAgent("escalation-agent", esc)

	msg := envelope("escalation-agent", protocol.EscalationHandoffPayload{
		Query:            "symptoms of ovarian cancer",
		ContentFound:     true,
		EscalationNeeded: true,
		MedicalCategory:  "cancer_symptoms",
	})
	msg.Metadata = map[string]string{"user_id": "user-1"}

	result, err := agent.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, result.Escalation)
	assert.True(t, result.Escalation.Notified)
	assert.NotEmpty(t, result.Escalation.EscalationID)

	require.Len(t, esc.notices, 1)
	assert.True(t, esc.notices[0].RequiresCallback)
	assert.Contains(t, esc.notices[0].Summary, "cancer_symptoms")
}

func envelope(to string, payload protocol.Payload) *model.AgentMessage {
	now := time.Now()
	return &model.AgentMessage{
		ID:        "msg-1",
		FromAgent: "test",
		ToAgent:   to,
		Type:      string(payload.Protocol()),
		Priority:  model.PriorityNormal,
		Timestamp: now,
		ExpiresAt: now.Add(time.Second),
		Payload:   payload,
	}
}
