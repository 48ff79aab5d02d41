package protocol

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/pkg/logger"
)

// fakeRouter scripts per-agent outcomes and records every delivery.
type fakeRouter struct {
	mu       sync.Mutex
	agents   []string
	failFor  map[string]int // remaining failures per agent id
	received []*model.AgentMessage
}

func newFakeRouter(agents ...string) *fakeRouter {
	return &fakeRouter{
		agents:  agents,
		failFor: make(map[string]int),
	}
}

func (r *fakeRouter) ActiveAgents() []string { return r.agents }

func (r *fakeRouter) RouteMessage(ctx context.Context, msg *model.AgentMessage) *model.AgentResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *msg
	r.received = append(r.received, &copied)

	if n := r.failFor[msg.ToAgent]; n != 0 {
		if n > 0 {
			r.failFor[msg.ToAgent] = n - 1
		}
		return &model.AgentResponse{
			MessageID: msg.ID,
			AgentID:   msg.ToAgent,
			Success:   false,
			Error:     "scripted failure",
		}
	}
	return &model.AgentResponse{
		MessageID:    msg.ID,
		AgentID:      msg.ToAgent,
		Success:      true,
		ResponseTime: time.Millisecond,
		Result:       &model.AgentResult{Text: "ok"},
	}
}

func (r *fakeRouter) deliveriesTo(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.received {
		if msg.ToAgent == agentID {
			n++
		}
	}
	return n
}

// bogusPayload has no registered protocol config.
type bogusPayload struct{}

func (bogusPayload) Protocol() Protocol { return Protocol("bogus") }

func TestConfigForKnownProtocols(t *testing.T) {
	for _, p := range []Protocol{
		ProtocolSafetyCheck,
		ProtocolCrisisBroadcast,
		ProtocolSafetyToContent,
		ProtocolContentToEscalation,
		ProtocolEscalationHandoff,
		ProtocolGroupCoordination,
		ProtocolStatusUpdate,
		ProtocolDirectMessage,
	} {
		cfg, ok := ConfigFor(p)
		require.True(t, ok, string(p))
		assert.Greater(t, cfg.Timeout, time.Duration(0), string(p))
	}

	_, ok := ConfigFor(Protocol("bogus"))
	assert.False(t, ok)
}

func TestCrisisBroadcastTradesAcksForLatency(t *testing.T) {
	cfg, ok := ConfigFor(ProtocolCrisisBroadcast)
	require.True(t, ok)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.RetryCount)
	assert.True(t, cfg.Broadcast)
	assert.False(t, cfg.RequiresAck)
}

func TestSendMessageUnknownProtocol(t *testing.T) {
	c := NewCommunicator(newFakeRouter("a"), logger.NewNop())

	_, err := c.SendMessage(context.Background(), "me", "a", bogusPayload{}, model.PriorityNormal)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestSendMessageBuildsValidEnvelope(t *testing.T) {
	router := newFakeRouter("content-agent")
	c := NewCommunicator(router, logger.NewNop())

	resp, err := c.SendMessage(context.Background(), "safety-agent", "content-agent", ContentHandoffPayload{
		Query:         "ovarian cancer symptoms",
		SafetyCleared: true,
	}, model.PriorityHigh)
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.Len(t, router.received, 1)
	msg := router.received[0]
	assert.True(t, msg.Valid())
	assert.Equal(t, "safety-agent", msg.FromAgent)
	assert.Equal(t, "content-agent", msg.ToAgent)
	assert.Equal(t, string(ProtocolSafetyToContent), msg.Type)
	assert.Equal(t, model.PriorityHigh, msg.Priority)
	assert.Equal(t, string(ProtocolSafetyToContent), msg.Metadata["protocol"])

	cfg, _ := ConfigFor(ProtocolSafetyToContent)
	assert.Equal(t, msg.Timestamp.Add(cfg.Timeout), msg.ExpiresAt)
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	router := newFakeRouter("escalation-agent")
	router.failFor["escalation-agent"] = 2
	c := NewCommunicator(router, logger.NewNop())

	// direct_message carries a 2-retry budget: 3 attempts total.
	resp, err := c.SendMessage(context.Background(), "me", "escalation-agent", DirectMessagePayload{
		Content: "hello",
	}, model.PriorityNormal)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, router.deliveriesTo("escalation-agent"))
}

func TestDeliverExhaustedRequiresFallback(t *testing.T) {
	router := newFakeRouter("content-agent")
	router.failFor["content-agent"] = -1 // never succeeds
	c := NewCommunicator(router, logger.NewNop())

	resp, err := c.SendMessage(context.Background(), "me", "content-agent", DirectMessagePayload{
		Content: "hello",
	}, model.PriorityNormal)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.FallbackRequired)
	assert.Equal(t, 3, router.deliveriesTo("content-agent"))
}

func TestBroadcastExcludesSenderAndAggregates(t *testing.T) {
	router := newFakeRouter("safety-agent", "content-agent", "escalation-agent")
	router.failFor["escalation-agent"] = -1
	c := NewCommunicator(router, logger.NewNop())

	resp, err := c.SendCrisisAlert(context.Background(), "safety-agent", "conv-1", "critical", "crisis")
	require.NoError(t, err)

	// Partial delivery still counts as success.
	assert.True(t, resp.Success)
	assert.Equal(t, model.Broadcast, resp.AgentID)
	assert.Contains(t, resp.Error, "partial delivery: 1/2 failed")

	assert.Equal(t, 0, router.deliveriesTo("safety-agent"), "sender must not receive its own broadcast")
	assert.Equal(t, 1, router.deliveriesTo("content-agent"))
	assert.Equal(t, 1, router.deliveriesTo("escalation-agent"), "crisis broadcast has no retries")
}

func TestBroadcastAllFailed(t *testing.T) {
	router := newFakeRouter("a", "b")
	router.failFor["a"] = -1
	router.failFor["b"] = -1
	c := NewCommunicator(router, logger.NewNop())

	resp, err := c.SendMessage(context.Background(), "me", model.Broadcast, StatusUpdatePayload{
		AgentID: "me",
		Status:  "healthy",
	}, model.PriorityLow)
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestSendToGroupTargetsOnlyParticipants(t *testing.T) {
	router := newFakeRouter("a", "b", "c", "d")
	c := NewCommunicator(router, logger.NewNop())

	resp, err := c.SendToGroup(context.Background(), "orchestrator", []string{"a", "b"}, GroupCoordinationPayload{
		Topic:   "case review",
		Context: map[string]string{"conversation_id": "conv-1"},
	}, model.PriorityNormal)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assert.Equal(t, 1, router.deliveriesTo("a"))
	assert.Equal(t, 1, router.deliveriesTo("b"))
	assert.Equal(t, 0, router.deliveriesTo("c"))
	assert.Equal(t, 0, router.deliveriesTo("d"))

	// Deliveries carry the group protocol's envelope, not a flattened
	// direct message.
	router.mu.Lock()
	defer router.mu.Unlock()
	for _, msg := range router.received {
		assert.Equal(t, string(ProtocolGroupCoordination), msg.Type)
		payload, ok := msg.Payload.(GroupCoordinationPayload)
		require.True(t, ok)
		assert.Equal(t, "case review", payload.Topic)
	}
}

func TestSendToGroupRejectsUnicastProtocol(t *testing.T) {
	router := newFakeRouter("a", "b")
	c := NewCommunicator(router, logger.NewNop())

	_, err := c.SendToGroup(context.Background(), "orchestrator", []string{"a", "b"}, DirectMessagePayload{
		Content: "hello",
	}, model.PriorityNormal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group delivery")
	assert.Equal(t, 0, router.deliveriesTo("a"))
}

func TestOpenChannelCarriesProtocolConfig(t *testing.T) {
	channel, err := OpenChannel(ProtocolGroupCoordination, []string{"a", "b"}, model.PriorityNormal)
	require.NoError(t, err)

	assert.NotEmpty(t, channel.ID)
	assert.Equal(t, string(ProtocolGroupCoordination), channel.Protocol)
	assert.Equal(t, []string{"a", "b"}, channel.Participants)
	assert.Equal(t, 10*time.Second, channel.Timeout)
	assert.Equal(t, 1, channel.RetryCount)
	assert.True(t, channel.Active)

	_, err = OpenChannel(Protocol("bogus"), nil, model.PriorityNormal)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestCommunicationLogBounded(t *testing.T) {
	router := newFakeRouter("a")
	c := NewCommunicator(router, logger.NewNop())

	for i := 0; i < commLogLimit+25; i++ {
		_, err := c.SendMessage(context.Background(), "me", "a", DirectMessagePayload{
			Content: fmt.Sprintf("msg %d", i),
		}, model.PriorityNormal)
		require.NoError(t, err)
	}

	events := c.Events()
	assert.Len(t, events, commLogLimit)

	stats := c.Stats()
	assert.Equal(t, commLogLimit, stats.Total)
	assert.Equal(t, commLogLimit, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
}

func TestStatsCountsFailures(t *testing.T) {
	router := newFakeRouter("a", "b")
	router.failFor["b"] = -1
	c := NewCommunicator(router, logger.NewNop())

	_, err := c.SendMessage(context.Background(), "me", "a", DirectMessagePayload{Content: "x"}, model.PriorityNormal)
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "me", "b", DirectMessagePayload{Content: "y"}, model.PriorityNormal)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}
