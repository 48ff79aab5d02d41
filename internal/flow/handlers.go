package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/simonlevelai/askeve-core/internal/failover"
	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/orchestrator"
)

// HandlerRequest is the turn context handed to a topic handler.
type HandlerRequest struct {
	Text    string
	State   *model.ConversationState
	History []model.ConversationMessage
}

// HandlerReply is a topic handler's contribution to the turn.
type HandlerReply struct {
	Text                string
	NextStage           model.Stage
	Update              *model.StateUpdate
	EndConversation     bool
	EscalationTriggered bool
}

// TopicHandler processes turns for one topic. Confidence is a black-box
// scoring function in [0,1]; the engine picks the highest scorer.
type TopicHandler interface {
	Topic() model.Topic
	Confidence(text string, st *model.ConversationState) float64
	Handle(ctx context.Context, req *HandlerRequest) (*HandlerReply, error)
}

// keywordScore is the shared confidence heuristic: each matched phrase adds
// weight, capped at 1.
func keywordScore(text string, phrases map[string]float64) float64 {
	lowered := strings.ToLower(text)
	score := 0.0
	for phrase, weight := range phrases {
		if strings.Contains(lowered, phrase) {
			score += weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// HealthInformationHandler answers information-seeking questions through the
// orchestrated safety → content → escalation pipeline, with generated
// phrasing from the failover engine.
type HealthInformationHandler struct {
	cm       *orchestrator.ChatManager
	failover *failover.Manager
}

// NewHealthInformationHandler creates the health information handler.
func NewHealthInformationHandler(cm *orchestrator.ChatManager, fo *failover.Manager) *HealthInformationHandler {
	return &HealthInformationHandler{cm: cm, failover: fo}
}

func (h *HealthInformationHandler) Topic() model.Topic { return model.TopicHealthInformation }

func (h *HealthInformationHandler) Confidence(text string, st *model.ConversationState) float64 {
	return keywordScore(text, map[string]float64{
		"what is":     0.35,
		"what are":    0.35,
		"tell me":     0.3,
		"information": 0.3,
		"symptoms of": 0.4,
		"signs of":    0.4,
		"cancer":      0.3,
		"ovarian":     0.2,
		"cervical":    0.2,
		"womb":        0.2,
		"vulval":      0.2,
		"hpv":         0.2,
	})
}

func (h *HealthInformationHandler) Handle(ctx context.Context, req *HandlerRequest) (*HandlerReply, error) {
	resp, err := h.cm.OrchestrateConversation(ctx, req.Text, orchestrator.TurnContext{
		ConversationID: req.State.ConversationID,
		History:        req.History,
	})
	if err != nil {
		return nil, err
	}

	if resp.FallbackRequired || resp.Result == nil {
		return &HandlerReply{Text: NotFoundMessage, NextStage: model.StageInformationGathering}, nil
	}

	content := resp.Result.Content
	if !content.Usable() {
		// Found content without a source is never quoted.
		return &HandlerReply{Text: NotFoundMessage, NextStage: model.StageInformationGathering}, nil
	}

	text := content.Content
	gen := h.failover.MakeRequest(ctx, failover.Request{
		Query:     fmt.Sprintf("Rewrite this vetted health information in a warm, clear tone for a patient question (%q):\n\n%s", req.Text, content.Content),
		Type:      failover.RequestGeneral,
		MaxTokens: 512,
	})
	if gen.Success && !gen.HumanEscalation {
		text = gen.Text
	}

	reply := &HandlerReply{
		Text:      fmt.Sprintf("%s\n\nSource: %s (%s)", text, content.Source, content.SourceURL),
		NextStage: model.StageInformationGathering,
	}
	if resp.Result.Escalation != nil {
		reply.Text += "\n\n" + "A specialist nurse will follow up with you."
		reply.EscalationTriggered = true
	}
	return reply, nil
}

// SymptomCheckerHandler walks a first-person symptom conversation and
// recommends next steps.
type SymptomCheckerHandler struct {
	failover *failover.Manager
}

// NewSymptomCheckerHandler creates the symptom checker handler.
func NewSymptomCheckerHandler(fo *failover.Manager) *SymptomCheckerHandler {
	return &SymptomCheckerHandler{failover: fo}
}

func (h *SymptomCheckerHandler) Topic() model.Topic { return model.TopicSymptomChecker }

func (h *SymptomCheckerHandler) Confidence(text string, st *model.ConversationState) float64 {
	return keywordScore(text, map[string]float64{
		"i have":      0.35,
		"i've been":   0.35,
		"i am having": 0.35,
		"i feel":      0.35,
		"my pain":     0.3,
		"bloating":    0.3,
		"bleeding":    0.3,
		"discharge":   0.3,
		"worried":     0.2,
	})
}

func (h *SymptomCheckerHandler) Handle(ctx context.Context, req *HandlerRequest) (*HandlerReply, error) {
	gen := h.failover.MakeRequest(ctx, failover.Request{
		Query: fmt.Sprintf("A user describes these symptoms: %q. Respond with empathetic, non-diagnostic guidance and when to see a GP.", req.Text),
		Type:  failover.RequestGeneral,
	})

	text := gen.Text + "\n\nIf symptoms persist for more than two weeks, please make a GP appointment."
	return &HandlerReply{Text: text, NextStage: model.StageInformationGathering}, nil
}

// SupportServiceHandler runs the consent-capture and contact-collection
// workflow for a nurse callback. Mid-workflow turns replay here regardless
// of topic drift.
type SupportServiceHandler struct{}

// NewSupportServiceHandler creates the support service handler.
func NewSupportServiceHandler() *SupportServiceHandler {
	return &SupportServiceHandler{}
}

func (h *SupportServiceHandler) Topic() model.Topic { return model.TopicSupportService }

func (h *SupportServiceHandler) Confidence(text string, st *model.ConversationState) float64 {
	return keywordScore(text, map[string]float64{
		"speak to someone": 0.5,
		"talk to a nurse":  0.6,
		"nurse":            0.35,
		"call me":          0.4,
		"callback":         0.4,
		"support":          0.3,
	})
}

func (h *SupportServiceHandler) Handle(ctx context.Context, req *HandlerRequest) (*HandlerReply, error) {
	switch req.State.CurrentStage {
	case model.StageConsentCapture:
		lowered := strings.ToLower(req.Text)
		if strings.Contains(lowered, "yes") || strings.Contains(lowered, "ok") {
			granted := model.ConsentGranted
			return &HandlerReply{
				Text:      "Thank you. What's the best phone number or email to reach you on?",
				NextStage: model.StageContactCollection,
				Update:    &model.StateUpdate{ConsentStatus: &granted},
			}, nil
		}
		declined := model.ConsentDeclined
		return &HandlerReply{
			Text:      "That's completely fine. I'm here if you change your mind.",
			NextStage: model.StageCompletion,
			Update:    &model.StateUpdate{ConsentStatus: &declined},
		}, nil

	case model.StageContactCollection:
		return &HandlerReply{
			Text:      "Thank you. A specialist nurse will be in touch within one working day.",
			NextStage: model.StageCompletion,
			Update: &model.StateUpdate{
				Metadata: map[string]string{"contact": req.Text},
			},
		}, nil

	default:
		return &HandlerReply{
			Text:      "I can arrange for a specialist nurse to contact you. Is it OK to take your contact details?",
			NextStage: model.StageConsentCapture,
		}, nil
	}
}

// ScreeningInfoHandler covers screening programme questions.
type ScreeningInfoHandler struct {
	cm *orchestrator.ChatManager
}

// NewScreeningInfoHandler creates the screening information handler.
func NewScreeningInfoHandler(cm *orchestrator.ChatManager) *ScreeningInfoHandler {
	return &ScreeningInfoHandler{cm: cm}
}

func (h *ScreeningInfoHandler) Topic() model.Topic { return model.TopicScreeningInfo }

func (h *ScreeningInfoHandler) Confidence(text string, st *model.ConversationState) float64 {
	return keywordScore(text, map[string]float64{
		"screening":   0.5,
		"smear":       0.5,
		"smear test":  0.6,
		"pap":         0.4,
		"when should": 0.2,
		"invited":     0.2,
	})
}

func (h *ScreeningInfoHandler) Handle(ctx context.Context, req *HandlerRequest) (*HandlerReply, error) {
	resp, err := h.cm.OrchestrateConversation(ctx, req.Text, orchestrator.TurnContext{
		ConversationID: req.State.ConversationID,
		History:        req.History,
	})
	if err != nil {
		return nil, err
	}
	if resp.Result != nil && resp.Result.Content.Usable() {
		c := resp.Result.Content
		return &HandlerReply{
			Text:      fmt.Sprintf("%s\n\nSource: %s (%s)", c.Content, c.Source, c.SourceURL),
			NextStage: model.StageInformationGathering,
		}, nil
	}
	return &HandlerReply{Text: NotFoundMessage, NextStage: model.StageInformationGathering}, nil
}

// EndConversationHandler closes the conversation.
type EndConversationHandler struct{}

// NewEndConversationHandler creates the end-of-conversation handler.
func NewEndConversationHandler() *EndConversationHandler {
	return &EndConversationHandler{}
}

func (h *EndConversationHandler) Topic() model.Topic { return model.TopicEndOfConversation }

func (h *EndConversationHandler) Confidence(text string, st *model.ConversationState) float64 {
	return keywordScore(text, map[string]float64{
		"goodbye":  0.9,
		"bye":      0.7,
		"thanks, that's all": 0.9,
		"that's all":         0.6,
	})
}

func (h *EndConversationHandler) Handle(ctx context.Context, req *HandlerRequest) (*HandlerReply, error) {
	return &HandlerReply{
		Text:            GoodbyeMessage,
		NextStage:       model.StageCompletion,
		EndConversation: true,
	}, nil
}
