// Package orchestrator coordinates responders per turn through a configured
// stage pipeline. The default ordering is safety, then content, then
// escalation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/protocol"
	"github.com/simonlevelai/askeve-core/pkg/logger"
	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

var (
	// ErrUnknownAgent is returned when a message targets an unregistered
	// agent id.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrSafetyUnavailable is fatal for a turn. Orchestration never
	// proceeds to content or escalation without a safety verdict.
	ErrSafetyUnavailable = errors.New("safety responder unavailable")

	// ErrGroupTooLarge is returned when a group chat exceeds the
	// participant cap.
	ErrGroupTooLarge = errors.New("group chat limited to 3 agents")
)

// maxGroupSize caps participants per group chat.
const maxGroupSize = 3

// Agent is a responder registered with the chat manager.
type Agent interface {
	ID() string
	Role() model.AgentRole
	Handle(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error)
}

// Stage is one step of the orchestration pipeline. Requires names the role
// whose verdict must precede this stage, so the sequence is data rather than
// buried control flow.
type Stage struct {
	Role     model.AgentRole
	Requires model.AgentRole
}

// DefaultPipeline is the healthcare ordering.
var DefaultPipeline = []Stage{
	{Role: model.RoleSafety},
	{Role: model.RoleContent, Requires: model.RoleSafety},
	{Role: model.RoleEscalation, Requires: model.RoleContent},
}

// Config holds chat manager tunables.
type Config struct {
	// CallTimeout bounds every individual agent call.
	CallTimeout time.Duration

	// Pipeline orders the per-turn stages. Defaults to DefaultPipeline.
	Pipeline []Stage
}

// agentStats tracks per-agent delivery metrics.
type agentStats struct {
	messages  int
	errors    int
	totalTime time.Duration
}

// AgentStats is a snapshot of one agent's delivery metrics.
type AgentStats struct {
	AgentID         string        `json:"agent_id"`
	Messages        int           `json:"messages"`
	Errors          int           `json:"errors"`
	ErrorRate       float64       `json:"error_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// TurnContext carries the conversation context an orchestrated turn needs.
type TurnContext struct {
	ConversationID string
	History        []model.ConversationMessage
}

// ChatManager routes messages between registered responders and runs the
// staged orchestration for multi-responder turns.
type ChatManager struct {
	cfg    Config
	logger *logger.Logger
	comm   *protocol.Communicator

	mu     sync.RWMutex
	agents map[string]Agent
	byRole map[model.AgentRole]string
	stats  map[string]*agentStats
}

// NewChatManager creates a chat manager. The communicator is layered over
// the manager's own routing.
func NewChatManager(cfg Config, log *logger.Logger) *ChatManager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if len(cfg.Pipeline) == 0 {
		cfg.Pipeline = DefaultPipeline
	}
	cm := &ChatManager{
		cfg:    cfg,
		logger: log,
		agents: make(map[string]Agent),
		byRole: make(map[model.AgentRole]string),
		stats:  make(map[string]*agentStats),
	}
	cm.comm = protocol.NewCommunicator(cm, log)
	return cm
}

// Communicator returns the protocol layer bound to this manager.
func (cm *ChatManager) Communicator() *protocol.Communicator {
	return cm.comm
}

// RegisterAgent adds a responder. The first agent registered for a role
// becomes that role's pipeline target.
func (cm *ChatManager) RegisterAgent(a Agent) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.agents[a.ID()]; exists {
		return fmt.Errorf("agent %s already registered", a.ID())
	}
	cm.agents[a.ID()] = a
	cm.stats[a.ID()] = &agentStats{}
	if _, ok := cm.byRole[a.Role()]; !ok {
		cm.byRole[a.Role()] = a.ID()
	}

	cm.logger.Info("agent registered",
		zap.String("agent_id", a.ID()),
		zap.String("role", string(a.Role())),
	)
	return nil
}

// UnregisterAgent removes a responder.
func (cm *ChatManager) UnregisterAgent(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	a, ok := cm.agents[id]
	if !ok {
		return
	}
	delete(cm.agents, id)
	if cm.byRole[a.Role()] == id {
		delete(cm.byRole, a.Role())
		for otherID, other := range cm.agents {
			if other.Role() == a.Role() {
				cm.byRole[a.Role()] = otherID
				break
			}
		}
	}
}

// ActiveAgents implements protocol.Router.
func (cm *ChatManager) ActiveAgents() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ids := make([]string, 0, len(cm.agents))
	for id := range cm.agents {
		ids = append(ids, id)
	}
	return ids
}

// agentForRole resolves the pipeline target for a role.
func (cm *ChatManager) agentForRole(role model.AgentRole) (Agent, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	id, ok := cm.byRole[role]
	if !ok {
		return nil, false
	}
	a, ok := cm.agents[id]
	return a, ok
}

// RouteMessage implements protocol.Router: point-to-point delivery by agent
// id. Every call is bounded by the manager's call timeout; timeouts and
// agent panics come back as failed responses, never as escaping errors, so
// one agent's failure cannot abort a whole orchestration.
func (cm *ChatManager) RouteMessage(ctx context.Context, msg *model.AgentMessage) *model.AgentResponse {
	start := time.Now()

	if !msg.Valid() {
		return &model.AgentResponse{
			MessageID: msg.ID,
			AgentID:   msg.ToAgent,
			Success:   false,
			Error:     "invalid agent message",
		}
	}
	if msg.Expired(time.Now()) {
		return &model.AgentResponse{
			MessageID: msg.ID,
			AgentID:   msg.ToAgent,
			Success:   false,
			Error:     "message expired",
		}
	}

	cm.mu.RLock()
	agent, ok := cm.agents[msg.ToAgent]
	cm.mu.RUnlock()
	if !ok {
		return &model.AgentResponse{
			MessageID:        msg.ID,
			AgentID:          msg.ToAgent,
			Success:          false,
			Error:            fmt.Sprintf("%v: %s", ErrUnknownAgent, msg.ToAgent),
			FallbackRequired: true,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, cm.cfg.CallTimeout)
	defer cancel()

	type outcome struct {
		result *model.AgentResult
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		result, err := agent.Handle(callCtx, msg)
		resultCh <- outcome{result: result, err: err}
	}()

	resp := &model.AgentResponse{
		MessageID: msg.ID,
		AgentID:   msg.ToAgent,
	}

	select {
	case <-callCtx.Done():
		// The context cancellation aborts the agent call; the loser of
		// the race is not left running.
		resp.Error = fmt.Sprintf("agent %s timed out", msg.ToAgent)
	case out := <-resultCh:
		if out.err != nil {
			resp.Error = out.err.Error()
		} else {
			resp.Success = true
			resp.Result = out.result
		}
	}
	resp.ResponseTime = time.Since(start)

	cm.recordCall(msg.ToAgent, resp)
	return resp
}

func (cm *ChatManager) recordCall(agentID string, resp *model.AgentResponse) {
	cm.mu.Lock()
	if s, ok := cm.stats[agentID]; ok {
		s.messages++
		s.totalTime += resp.ResponseTime
		if !resp.Success {
			s.errors++
		}
	}
	cm.mu.Unlock()

	metrics.AgentResponseDuration.WithLabelValues(agentID).Observe(resp.ResponseTime.Seconds())
}

// Stats returns per-agent metric snapshots.
func (cm *ChatManager) Stats() []AgentStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]AgentStats, 0, len(cm.stats))
	for id, s := range cm.stats {
		st := AgentStats{
			AgentID:  id,
			Messages: s.messages,
			Errors:   s.errors,
		}
		if s.messages > 0 {
			st.ErrorRate = float64(s.errors) / float64(s.messages)
			st.AvgResponseTime = s.totalTime / time.Duration(s.messages)
		}
		out = append(out, st)
	}
	return out
}

// OrchestrateConversation runs the configured pipeline for one turn, stage
// by stage. A stage whose Requires role has not completed is skipped. The
// safety stage is mandatory: if the safety responder is unreachable, or the
// pipeline yields no safety verdict, the turn fails with
// ErrSafetyUnavailable rather than proceeding unchecked. A crisis verdict
// short-circuits the pipeline after a crisis broadcast. Content and
// escalation failures degrade to a fallback response.
func (cm *ChatManager) OrchestrateConversation(ctx context.Context, text string, tctx TurnContext) (*model.AgentResponse, error) {
	completed := make(map[model.AgentRole]bool, len(cm.cfg.Pipeline))
	byRole := make(map[model.AgentRole]*model.AgentResponse, len(cm.cfg.Pipeline))
	senders := make(map[model.AgentRole]string, len(cm.cfg.Pipeline))
	var final *model.AgentResponse

	for _, stage := range cm.cfg.Pipeline {
		if stage.Requires != "" && !completed[stage.Requires] {
			continue
		}

		switch stage.Role {
		case model.RoleSafety:
			safetyAgent, ok := cm.agentForRole(model.RoleSafety)
			if !ok {
				return nil, ErrSafetyUnavailable
			}

			resp, err := cm.comm.SendMessage(ctx, "orchestrator", safetyAgent.ID(), protocol.SafetyCheckPayload{
				Text:    text,
				History: tctx.History,
			}, model.PriorityCritical)
			if err != nil || !resp.Success || resp.Result == nil || resp.Result.Safety == nil {
				return nil, ErrSafetyUnavailable
			}

			verdict := resp.Result.Safety
			if verdict.ShouldEscalate {
				// Crisis path: alert everyone, return the safety
				// response, and never run the remaining stages.
				if _, err := cm.comm.SendCrisisAlert(ctx, safetyAgent.ID(), tctx.ConversationID, verdict.Severity, verdict.EscalationType); err != nil {
					cm.logger.Error("crisis broadcast failed",
						zap.String("conversation_id", tctx.ConversationID),
						zap.Error(err),
					)
				}
				return resp, nil
			}

			senders[model.RoleSafety] = safetyAgent.ID()
			byRole[model.RoleSafety] = resp
			completed[model.RoleSafety] = true
			final = resp

		case model.RoleContent:
			safetyResp := byRole[model.RoleSafety]
			if safetyResp == nil {
				continue
			}
			verdict := safetyResp.Result.Safety

			contentAgent, ok := cm.agentForRole(model.RoleContent)
			if !ok {
				return cm.fallbackResponse(safetyResp.MessageID), nil
			}

			resp, err := cm.comm.SendContentHandoff(ctx, senders[model.RoleSafety], contentAgent.ID(), text, verdict.Severity)
			if err != nil || !resp.Success {
				cm.logger.Warn("content handoff failed, returning fallback",
					zap.String("conversation_id", tctx.ConversationID),
				)
				return cm.fallbackResponse(safetyResp.MessageID), nil
			}

			senders[model.RoleContent] = contentAgent.ID()
			byRole[model.RoleContent] = resp
			completed[model.RoleContent] = true
			final = resp

		case model.RoleEscalation:
			contentResp := byRole[model.RoleContent]
			if contentResp == nil {
				continue
			}
			content := contentResp.Result.Content
			if content == nil || !content.EscalationRecommended {
				continue
			}

			escalationAgent, ok := cm.agentForRole(model.RoleEscalation)
			if !ok {
				continue
			}

			resp, err := cm.comm.SendEscalationHandoff(ctx, senders[model.RoleContent], escalationAgent.ID(), text, content.Found, content.MedicalCategory)
			if err != nil || !resp.Success {
				// The content answer still stands when escalation
				// coordination fails; the failed handoff is visible in
				// the comm log.
				continue
			}
			final = aggregateResponses(contentResp, resp)
		}
	}

	if final == nil {
		return nil, ErrSafetyUnavailable
	}
	return final, nil
}

// fallbackResponse is the degraded answer for a safety-cleared turn whose
// content stage could not be completed.
func (cm *ChatManager) fallbackResponse(messageID string) *model.AgentResponse {
	return &model.AgentResponse{
		MessageID:        messageID,
		AgentID:          "orchestrator",
		Success:          true,
		FallbackRequired: true,
		Result: &model.AgentResult{
			Text: "I'm sorry, I couldn't look that up just now. Please try asking again in a moment.",
		},
	}
}

// aggregateResponses folds the content and escalation responses into one
// combined result.
func aggregateResponses(content, escalation *model.AgentResponse) *model.AgentResponse {
	combined := &model.AgentResponse{
		MessageID:    content.MessageID,
		AgentID:      content.AgentID,
		Success:      true,
		ResponseTime: content.ResponseTime + escalation.ResponseTime,
		Result: &model.AgentResult{
			Text:    content.Result.Text,
			Content: content.Result.Content,
		},
	}
	if escalation.Result != nil {
		combined.Result.Escalation = escalation.Result.Escalation
		if escalation.Result.Text != "" {
			combined.Result.Text = combined.Result.Text + "\n\n" + escalation.Result.Text
		}
	}
	return combined
}

// CoordinateHandoff delivers a typed handoff payload from one agent to
// another.
func (cm *ChatManager) CoordinateHandoff(ctx context.Context, from, to string, payload protocol.Payload) (*model.AgentResponse, error) {
	return cm.comm.SendMessage(ctx, from, to, payload, model.PriorityHigh)
}

// InitiateGroupChat opens a bounded group session: the coordination payload
// fans out to the named participants under the group protocol's rules, and
// the returned channel describes the session's standing configuration.
func (cm *ChatManager) InitiateGroupChat(ctx context.Context, agentIDs []string, groupCtx map[string]string) (*model.CommunicationChannel, *model.AgentResponse, error) {
	if len(agentIDs) > maxGroupSize {
		return nil, nil, ErrGroupTooLarge
	}

	channel, err := protocol.OpenChannel(protocol.ProtocolGroupCoordination, agentIDs, model.PriorityNormal)
	if err != nil {
		return nil, nil, err
	}

	resp, err := cm.comm.SendToGroup(ctx, "orchestrator", agentIDs, protocol.GroupCoordinationPayload{
		Topic:   "group_session",
		Context: groupCtx,
	}, model.PriorityNormal)
	if err != nil {
		return nil, nil, err
	}
	channel.Active = resp.Success

	return channel, resp, nil
}
