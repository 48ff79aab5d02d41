// Package protocol implements typed, protocol-tagged message passing between
// responders with per-protocol timeout, retry, broadcast and ack rules.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/pkg/logger"
	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

// ErrUnknownProtocol is returned for a protocol with no registered config.
var ErrUnknownProtocol = errors.New("unknown protocol")

// commLogLimit bounds the communication-event log.
const commLogLimit = 1000

// Config is the static delivery contract for one protocol.
type Config struct {
	Timeout     time.Duration
	RetryCount  int
	RequiresAck bool
	Broadcast   bool
}

// configs holds the eight protocol contracts. Crisis broadcast trades
// acks and retries for latency; escalation handoffs retry hardest.
var configs = map[Protocol]Config{
	ProtocolSafetyCheck:         {Timeout: 2 * time.Second, RetryCount: 1, RequiresAck: true},
	ProtocolCrisisBroadcast:     {Timeout: 1 * time.Second, RetryCount: 0, Broadcast: true},
	ProtocolSafetyToContent:     {Timeout: 5 * time.Second, RetryCount: 2, RequiresAck: true},
	ProtocolContentToEscalation: {Timeout: 5 * time.Second, RetryCount: 3, RequiresAck: true},
	ProtocolEscalationHandoff:   {Timeout: 3 * time.Second, RetryCount: 2, RequiresAck: true},
	ProtocolGroupCoordination:   {Timeout: 10 * time.Second, RetryCount: 1, Broadcast: true},
	ProtocolStatusUpdate:        {Timeout: 5 * time.Second, RetryCount: 0, Broadcast: true},
	ProtocolDirectMessage:       {Timeout: 5 * time.Second, RetryCount: 2, RequiresAck: true},
}

// ConfigFor returns the static config for a protocol.
func ConfigFor(p Protocol) (Config, bool) {
	cfg, ok := configs[p]
	return cfg, ok
}

// Router is the raw delivery layer the protocol sits on. Implemented by the
// chat manager.
type Router interface {
	// RouteMessage delivers a message point-to-point by agent id. An
	// unknown recipient is reported in the response, not as an error.
	RouteMessage(ctx context.Context, msg *model.AgentMessage) *model.AgentResponse

	// ActiveAgents lists registered agent ids.
	ActiveAgents() []string
}

// Event is one entry in the bounded communication log.
type Event struct {
	MessageID    string
	Protocol     Protocol
	From         string
	To           string
	Success      bool
	Acked        bool
	ResponseTime time.Duration
	Timestamp    time.Time
}

// Stats aggregates the communication log for health reporting.
type Stats struct {
	Total           int           `json:"total"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Communicator sends protocol-tagged messages over a Router.
type Communicator struct {
	router Router
	logger *logger.Logger

	mu     sync.Mutex
	events []Event
}

// NewCommunicator creates a communicator over the given router.
func NewCommunicator(router Router, log *logger.Logger) *Communicator {
	return &Communicator{
		router: router,
		logger: log,
	}
}

// SendMessage builds the envelope for a payload and delivers it under the
// payload's protocol rules. Broadcast protocols fan out to every active
// agent except the sender and aggregate the responses; partial success is
// reported as success with the failures in the response error.
func (c *Communicator) SendMessage(ctx context.Context, from, to string, payload Payload, priority model.Priority) (*model.AgentResponse, error) {
	return c.send(ctx, from, to, nil, payload, priority)
}

// SendToGroup delivers a broadcast-protocol payload to an explicit
// participant list instead of every active responder.
func (c *Communicator) SendToGroup(ctx context.Context, from string, participants []string, payload Payload, priority model.Priority) (*model.AgentResponse, error) {
	cfg, ok := configs[payload.Protocol()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, payload.Protocol())
	}
	if !cfg.Broadcast {
		return nil, fmt.Errorf("protocol %s does not support group delivery", payload.Protocol())
	}
	return c.send(ctx, from, model.Broadcast, participants, payload, priority)
}

func (c *Communicator) send(ctx context.Context, from, to string, recipients []string, payload Payload, priority model.Priority) (*model.AgentResponse, error) {
	proto := payload.Protocol()
	cfg, ok := configs[proto]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, proto)
	}

	now := time.Now()
	msg := &model.AgentMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		FromAgent: from,
		ToAgent:   to,
		Type:      string(proto),
		Priority:  priority,
		Timestamp: now,
		ExpiresAt: now.Add(cfg.Timeout),
		Payload:   payload,
		Metadata: map[string]string{
			"protocol": string(proto),
		},
	}

	var resp *model.AgentResponse
	if cfg.Broadcast {
		if recipients == nil {
			recipients = c.router.ActiveAgents()
		}
		resp = c.broadcast(ctx, msg, cfg, recipients)
	} else {
		resp = c.deliver(ctx, msg, cfg)
	}

	acked := cfg.RequiresAck && resp.Success
	c.record(Event{
		MessageID:    msg.ID,
		Protocol:     proto,
		From:         from,
		To:           to,
		Success:      resp.Success,
		Acked:        acked,
		ResponseTime: resp.ResponseTime,
		Timestamp:    now,
	})

	result := "success"
	if !resp.Success {
		result = "failure"
	}
	metrics.RecordAgentMessage(string(proto), result)

	if acked {
		// Ack processing is logged only; it never blocks the send path.
		c.logger.Debug("message acknowledged",
			zap.String("message_id", msg.ID),
			zap.String("protocol", string(proto)),
		)
	}

	return resp, nil
}

// deliver routes point-to-point with the protocol's retry budget.
func (c *Communicator) deliver(ctx context.Context, msg *model.AgentMessage, cfg Config) *model.AgentResponse {
	var resp *model.AgentResponse
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		resp = c.router.RouteMessage(callCtx, msg)
		cancel()

		if resp.Success {
			return resp
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < cfg.RetryCount {
			c.logger.Debug("retrying delivery",
				zap.String("message_id", msg.ID),
				zap.String("to", msg.ToAgent),
				zap.Int("attempt", attempt+1),
			)
		}
	}
	resp.FallbackRequired = true
	return resp
}

// broadcast fans the message out to the given recipients, excluding the
// sender.
func (c *Communicator) broadcast(ctx context.Context, msg *model.AgentMessage, cfg Config, recipients []string) *model.AgentResponse {
	start := time.Now()

	var (
		mu        sync.Mutex
		succeeded int
		failures  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, agentID := range recipients {
		if agentID == msg.FromAgent {
			continue
		}
		agentID := agentID
		g.Go(func() error {
			targeted := *msg
			targeted.ToAgent = agentID

			callCtx, cancel := context.WithTimeout(gctx, cfg.Timeout)
			defer cancel()
			resp := c.router.RouteMessage(callCtx, &targeted)

			mu.Lock()
			if resp.Success {
				succeeded++
			} else {
				failures = append(failures, fmt.Sprintf("%s: %s", agentID, resp.Error))
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	resp := &model.AgentResponse{
		MessageID:    msg.ID,
		AgentID:      model.Broadcast,
		Success:      succeeded > 0,
		ResponseTime: time.Since(start),
	}
	if len(failures) > 0 {
		resp.Error = fmt.Sprintf("partial delivery: %d/%d failed", len(failures), len(failures)+succeeded)
		c.logger.Warn("broadcast partially failed",
			zap.String("message_id", msg.ID),
			zap.Strings("failures", failures),
		)
	}
	return resp
}

// record appends an event to the bounded communication log.
func (c *Communicator) record(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)
	if len(c.events) > commLogLimit {
		c.events = c.events[len(c.events)-commLogLimit:]
	}
}

// Events returns a copy of the communication log.
func (c *Communicator) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Stats aggregates the communication log.
func (c *Communicator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Total: len(c.events)}
	var total time.Duration
	for _, ev := range c.events {
		if ev.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		total += ev.ResponseTime
	}
	if s.Total > 0 {
		s.AvgResponseTime = total / time.Duration(s.Total)
	}
	return s
}

// OpenChannel describes a standing delivery configuration between the named
// participants under a protocol's rules.
func OpenChannel(p Protocol, participants []string, priority model.Priority) (*model.CommunicationChannel, error) {
	cfg, ok := configs[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, p)
	}
	return &model.CommunicationChannel{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Protocol:     string(p),
		Participants: append([]string(nil), participants...),
		Priority:     priority,
		Timeout:      cfg.Timeout,
		RetryCount:   cfg.RetryCount,
		Active:       true,
	}, nil
}

// SendCrisisAlert broadcasts a crisis alert to all active responders.
func (c *Communicator) SendCrisisAlert(ctx context.Context, from, conversationID, severity, escalationType string) (*model.AgentResponse, error) {
	return c.SendMessage(ctx, from, model.Broadcast, CrisisAlertPayload{
		ConversationID: conversationID,
		Severity:       severity,
		EscalationType: escalationType,
	}, model.PriorityCritical)
}

// SendContentHandoff forwards a safety-cleared query to the content
// responder.
func (c *Communicator) SendContentHandoff(ctx context.Context, from, to, query string, severity string) (*model.AgentResponse, error) {
	return c.SendMessage(ctx, from, to, ContentHandoffPayload{
		Query:         query,
		SafetyCleared: true,
		Severity:      severity,
	}, model.PriorityHigh)
}

// SendEscalationHandoff forwards a content outcome that needs escalation.
func (c *Communicator) SendEscalationHandoff(ctx context.Context, from, to, query string, contentFound bool, category string) (*model.AgentResponse, error) {
	return c.SendMessage(ctx, from, to, EscalationHandoffPayload{
		Query:            query,
		ContentFound:     contentFound,
		EscalationNeeded: true,
		MedicalCategory:  category,
	}, model.PriorityHigh)
}
