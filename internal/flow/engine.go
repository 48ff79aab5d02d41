// Package flow drives turn-level routing: state lookup, the mandatory
// safety gate, topic detection and handler invocation.
package flow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simonlevelai/askeve-core/internal/escalation"
	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/orchestrator"
	"github.com/simonlevelai/askeve-core/internal/state"
	"github.com/simonlevelai/askeve-core/pkg/logger"
	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

// SafetyAnalyzer is the safety collaborator consumed by the engine's
// mandatory gate.
type SafetyAnalyzer interface {
	Analyze(ctx context.Context, text string, history []model.ConversationMessage) (*model.SafetyVerdict, error)
}

// CrisisNotifier delivers crisis escalation notices outbound.
type CrisisNotifier interface {
	Notify(ctx context.Context, notice escalation.Notice) error
}

// Config holds flow engine tunables.
type Config struct {
	// DisambiguationThreshold is the minimum winning confidence before the
	// engine asks the user to choose between close candidates.
	DisambiguationThreshold float64

	// SafetyCheckTimeout bounds the mandatory safety gate.
	SafetyCheckTimeout time.Duration
}

// closeCandidateMargin decides when a runner-up is close enough to force
// disambiguation.
const closeCandidateMargin = 0.15

// topicLabels are the user-facing names offered during disambiguation.
var topicLabels = map[model.Topic]string{
	model.TopicHealthInformation: "Information about symptoms or conditions",
	model.TopicSymptomChecker:    "Talking through symptoms you're experiencing",
	model.TopicScreeningInfo:     "Screening tests and invitations",
	model.TopicSupportService:    "Speaking to a specialist nurse",
	model.TopicEndOfConversation: "Ending our chat",
}

// Engine routes one user turn per call. It never propagates an unhandled
// error back to the caller mid-conversation; every failure resolves to a
// fixed fallback response.
type Engine struct {
	cfg      Config
	states   *state.Manager
	cm       *orchestrator.ChatManager
	safety   SafetyAnalyzer
	notifier CrisisNotifier
	logger   *logger.Logger

	handlers map[model.Topic]TopicHandler
}

// NewEngine creates a flow engine.
func NewEngine(cfg Config, states *state.Manager, cm *orchestrator.ChatManager, safety SafetyAnalyzer, notifier CrisisNotifier, log *logger.Logger) *Engine {
	if cfg.DisambiguationThreshold <= 0 {
		cfg.DisambiguationThreshold = 0.8
	}
	if cfg.SafetyCheckTimeout <= 0 {
		cfg.SafetyCheckTimeout = 2 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		states:   states,
		cm:       cm,
		safety:   safety,
		notifier: notifier,
		logger:   log,
		handlers: make(map[model.Topic]TopicHandler),
	}
}

// RegisterHandler adds a topic handler.
func (e *Engine) RegisterHandler(h TopicHandler) {
	e.handlers[h.Topic()] = h
}

// ProcessTurn runs one user turn end to end.
func (e *Engine) ProcessTurn(ctx context.Context, req model.TurnRequest) (result *model.TurnResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("turn processing panicked",
				zap.String("conversation_id", req.ConversationID),
				zap.Any("panic", r),
			)
			result = e.errorResult(ctx, req.ConversationID)
		}
		outcome := "ok"
		if result.EscalationTriggered {
			outcome = "escalated"
		} else if result.Topic == model.TopicOnError {
			outcome = "error"
		}
		metrics.RecordTurn(string(result.Topic), outcome, time.Since(start).Seconds())
	}()

	st, err := e.states.GetOrCreateState(ctx, req.ConversationID, req.UserID, req.SessionID)
	if err != nil {
		e.logger.Error("failed to load state", zap.Error(err))
		return e.errorResult(ctx, req.ConversationID)
	}

	if _, err := e.states.AddMessage(ctx, req.ConversationID, req.Text, true, nil); err != nil {
		return e.errorResult(ctx, req.ConversationID)
	}
	history := e.states.History(req.ConversationID)

	// Mandatory safety check. Never skippable; no verdict means no turn.
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SafetyCheckTimeout)
	verdict, err := e.safety.Analyze(sctx, req.Text, history)
	cancel()
	if err != nil || verdict == nil {
		e.logger.Error("safety verdict unavailable",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err),
		)
		return e.respond(ctx, req.ConversationID, st, SafetyUnavailableMessage, false, false)
	}
	if verdict.ShouldEscalate {
		return e.handleCrisis(ctx, req, st, verdict, start)
	}

	// Mid-workflow turns replay to the active handler; workflows are not
	// interrupted by topic drift.
	if st.CurrentStage == model.StageConsentCapture || st.CurrentStage == model.StageContactCollection {
		if handler, ok := e.handlers[st.CurrentTopic]; ok {
			return e.invoke(ctx, req, st, handler, history)
		}
	}

	topic, needsChoice, candidates := e.detectTopic(req.Text, st)
	if needsChoice {
		return e.askToChoose(ctx, req.ConversationID, st, candidates)
	}

	tr, err := e.states.TransitionToTopic(ctx, req.ConversationID, topic, model.StageInformationGathering)
	if err != nil {
		return e.errorResult(ctx, req.ConversationID)
	}
	active := topic
	if !tr.Success {
		// Rejected transitions fall back to the current topic's handler;
		// the rejection is already reported in the transition result.
		active = st.CurrentTopic
	}

	handler, ok := e.handlers[active]
	if !ok {
		handler, ok = e.handlers[model.TopicHealthInformation]
		if !ok {
			return e.errorResult(ctx, req.ConversationID)
		}
	}

	st, err = e.states.GetState(req.ConversationID)
	if err != nil {
		return e.errorResult(ctx, req.ConversationID)
	}
	return e.invoke(ctx, req, st, handler, history)
}

// detectTopic queries every handler's confidence function and resolves the
// winner, or reports that disambiguation is needed.
func (e *Engine) detectTopic(text string, st *model.ConversationState) (model.Topic, bool, []model.Topic) {
	type candidate struct {
		topic model.Topic
		score float64
	}

	var scored []candidate
	for topic, h := range e.handlers {
		scored = append(scored, candidate{topic: topic, score: h.Confidence(text, st)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].topic < scored[j].topic
	})

	if len(scored) == 0 || scored[0].score == 0 {
		return model.TopicHealthInformation, false, nil
	}

	top := scored[0]
	if top.score < e.cfg.DisambiguationThreshold && len(scored) > 1 {
		second := scored[1]
		if second.score > 0 && top.score-second.score < closeCandidateMargin {
			n := 3
			if len(scored) < n {
				n = len(scored)
			}
			topics := make([]model.Topic, 0, n)
			for _, c := range scored[:n] {
				if c.score > 0 {
					topics = append(topics, c.topic)
				}
			}
			return model.TopicMultipleTopics, true, topics
		}
	}
	return top.topic, false, nil
}

// askToChoose transitions to the disambiguation topic and offers the top
// candidates instead of guessing.
func (e *Engine) askToChoose(ctx context.Context, conversationID string, st *model.ConversationState, candidates []model.Topic) *model.TurnResult {
	if _, err := e.states.TransitionToTopic(ctx, conversationID, model.TopicMultipleTopics, model.StageInformationGathering); err != nil {
		return e.errorResult(ctx, conversationID)
	}

	var b strings.Builder
	b.WriteString(ChooseTopicMessage)
	for i, topic := range candidates {
		label := topicLabels[topic]
		if label == "" {
			label = string(topic)
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, label)
	}

	st, err := e.states.GetState(conversationID)
	if err != nil {
		return e.errorResult(ctx, conversationID)
	}
	return e.respond(ctx, conversationID, st, b.String(), false, false)
}

// handleCrisis short-circuits the turn: crisis transition, broadcast,
// outbound notice, fixed crisis response. Content and escalation responders
// are never invoked on a crisis turn.
func (e *Engine) handleCrisis(ctx context.Context, req model.TurnRequest, st *model.ConversationState, verdict *model.SafetyVerdict, start time.Time) *model.TurnResult {
	if _, err := e.states.TransitionToTopic(ctx, req.ConversationID, model.TopicCrisisSupport, model.StageEscalation); err != nil {
		e.logger.Error("crisis transition failed", zap.Error(err))
	}

	if _, err := e.cm.Communicator().SendCrisisAlert(ctx, "flow-engine", req.ConversationID, verdict.Severity, verdict.EscalationType); err != nil {
		e.logger.Error("crisis broadcast failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err),
		)
	}

	if e.notifier != nil {
		notice := escalation.Notice{
			EscalationID:     req.ConversationID + "-" + fmt.Sprint(time.Now().UnixMilli()),
			ConversationID:   req.ConversationID,
			Severity:         verdict.Severity,
			Urgency:          "immediate",
			UserID:           req.UserID,
			Summary:          "crisis language detected in conversation",
			RequiresCallback: true,
		}
		// Delivery retries must not hold up the crisis response.
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := e.notifier.Notify(nctx, notice); err != nil {
				e.logger.Error("crisis notice delivery failed", zap.Error(err))
			}
		}()
	}

	metrics.CrisisTurnDuration.Observe(time.Since(start).Seconds())

	st, err := e.states.GetState(req.ConversationID)
	if err != nil {
		return e.errorResult(ctx, req.ConversationID)
	}
	return e.respond(ctx, req.ConversationID, st, CrisisMessage, true, false)
}

// invoke runs a topic handler and applies its reply to state.
func (e *Engine) invoke(ctx context.Context, req model.TurnRequest, st *model.ConversationState, handler TopicHandler, history []model.ConversationMessage) *model.TurnResult {
	reply, err := handler.Handle(ctx, &HandlerRequest{
		Text:    req.Text,
		State:   st,
		History: history,
	})
	if err != nil {
		e.logger.Error("topic handler failed",
			zap.String("topic", string(handler.Topic())),
			zap.Error(err),
		)
		return e.errorResult(ctx, req.ConversationID)
	}

	update := reply.Update
	if reply.NextStage != "" {
		if update == nil {
			update = &model.StateUpdate{}
		}
		stage := reply.NextStage
		update.Stage = &stage
	}
	if update != nil {
		if _, err := e.states.UpdateState(ctx, req.ConversationID, *update); err != nil {
			return e.errorResult(ctx, req.ConversationID)
		}
	}

	if reply.EndConversation {
		if _, err := e.states.TransitionToTopic(ctx, req.ConversationID, model.TopicEndOfConversation, model.StageCompletion); err != nil {
			e.logger.Warn("end transition failed", zap.Error(err))
		}
	}

	st, err = e.states.GetState(req.ConversationID)
	if err != nil {
		return e.errorResult(ctx, req.ConversationID)
	}
	return e.respond(ctx, req.ConversationID, st, reply.Text, reply.EscalationTriggered, reply.EndConversation)
}

// respond appends the assistant reply to history and builds the turn result.
func (e *Engine) respond(ctx context.Context, conversationID string, st *model.ConversationState, text string, escalated, ended bool) *model.TurnResult {
	if _, err := e.states.AddMessage(ctx, conversationID, text, false, nil); err != nil {
		e.logger.Warn("failed to record reply", zap.Error(err))
	}
	return &model.TurnResult{
		Response:            text,
		Topic:               st.CurrentTopic,
		Stage:               st.CurrentStage,
		EscalationTriggered: escalated,
		ConversationEnded:   ended,
	}
}

// errorResult converts any failure below the engine into the fixed
// technical-difficulty response and an on_error transition.
func (e *Engine) errorResult(ctx context.Context, conversationID string) *model.TurnResult {
	if _, err := e.states.TransitionToTopic(ctx, conversationID, model.TopicOnError, model.StageCompletion); err != nil {
		e.logger.Warn("error transition failed", zap.Error(err))
	}
	if _, err := e.states.AddMessage(ctx, conversationID, TechnicalDifficultyMessage, false, nil); err != nil {
		e.logger.Warn("failed to record error reply", zap.Error(err))
	}
	return &model.TurnResult{
		Response: TechnicalDifficultyMessage,
		Topic:    model.TopicOnError,
		Stage:    model.StageCompletion,
	}
}
