// Package failover resolves one working text-generation provider per request
// from an ordered list of tiers, with per-provider circuit breaking and SLA
// compliance tracking.
package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simonlevelai/askeve-core/internal/provider"
	"github.com/simonlevelai/askeve-core/pkg/logger"
	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

// ErrProvidersExhausted means every non-emergency tier failed for a request.
var ErrProvidersExhausted = errors.New("all provider tiers exhausted")

// exhaustedText is the hard floor served when the emergency generator itself
// misbehaves. It must carry the emergency contact numbers.
const exhaustedText = "I'm sorry, I can't generate a full answer right now. " +
	"If you need urgent help, please call 999, or the Samaritans on 116 123. " +
	"For medical advice, call NHS 111."

// Tier pairs a priority rank with a generator.
type Tier struct {
	Name      string
	Generator provider.Generator
}

// Config holds failover tunables.
type Config struct {
	// FailureThreshold opens a provider's circuit after this many
	// consecutive failures.
	FailureThreshold int

	// Cooldown is how long an open circuit waits before a half-open probe.
	Cooldown time.Duration

	// RequestTimeout bounds each individual provider attempt.
	RequestTimeout time.Duration

	// SLALimits are the per-type latency bounds.
	SLALimits map[RequestType]time.Duration
}

// DefaultSLALimits returns the production latency bounds.
func DefaultSLALimits() map[RequestType]time.Duration {
	return map[RequestType]time.Duration{
		RequestDetection: 500 * time.Millisecond,
		RequestCrisis:    2 * time.Second,
		RequestGeneral:   5 * time.Second,
	}
}

// Request is one generation request routed through the failover engine.
type Request struct {
	Query     string
	Type      RequestType
	MaxTokens int
}

// Response identifies which tier served a request and whether SLA or
// escalation flags were raised.
type Response struct {
	Success         bool   `json:"success"`
	Text            string `json:"text,omitempty"`
	Provider        string `json:"provider"`
	Tier            string `json:"tier"`
	SLAViolation    bool   `json:"sla_violation"`
	HumanEscalation bool   `json:"human_escalation,omitempty"`
}

// ProviderRecord is a health snapshot of one provider, owned exclusively by
// the manager.
type ProviderRecord struct {
	Name             string        `json:"name"`
	Tier             string        `json:"tier"`
	CircuitState     string        `json:"circuit_state"`
	ConsecutiveFails int           `json:"consecutive_failures"`
	LastResponseTime time.Duration `json:"last_response_time"`
	SLAViolation     bool          `json:"sla_violation"`
}

// EscalationFunc is invoked exactly once per request when every tier has
// failed and a human must be notified. It must not block the response path
// for long; delivery retries live behind it.
type EscalationFunc func(ctx context.Context, req Request)

type providerRecord struct {
	tier         string
	breaker      *Breaker
	lastResponse time.Duration
	slaViolation bool
}

// Manager walks provider tiers in priority order per request.
type Manager struct {
	cfg       Config
	tiers     []Tier
	emergency Tier
	sla       *SLATracker
	logger    *logger.Logger
	onExhaust EscalationFunc

	mu      sync.Mutex
	records map[string]*providerRecord
}

// NewManager creates a failover manager. The emergency tier must never fail;
// it is consulted only after every ordered tier is exhausted.
func NewManager(cfg Config, tiers []Tier, emergency Tier, log *logger.Logger) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.SLALimits == nil {
		cfg.SLALimits = DefaultSLALimits()
	}

	m := &Manager{
		cfg:       cfg,
		tiers:     tiers,
		emergency: emergency,
		sla:       NewSLATracker(cfg.SLALimits),
		logger:    log,
		records:   make(map[string]*providerRecord),
	}
	for _, t := range tiers {
		m.records[t.Generator.Name()] = &providerRecord{
			tier:    t.Name,
			breaker: NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
		}
	}
	return m
}

// SetEscalationFunc wires the human-escalation notification path.
func (m *Manager) SetEscalationFunc(fn EscalationFunc) {
	m.onExhaust = fn
}

// SLA returns the manager's SLA tracker.
func (m *Manager) SLA() *SLATracker {
	return m.sla
}

// Breaker returns the breaker for a provider. Tests only.
func (m *Manager) Breaker(providerName string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[providerName]; ok {
		return rec.breaker
	}
	return nil
}

// MakeRequest resolves one working provider for the request. Tiers whose
// circuit is open are skipped entirely. When every tier fails the response
// comes from the emergency tier with HumanEscalation set, and the
// escalation func fires exactly once.
func (m *Manager) MakeRequest(ctx context.Context, req Request) *Response {
	start := time.Now()

	for _, tier := range m.tiers {
		name := tier.Generator.Name()
		rec := m.record(name)

		if err := rec.breaker.Allow(); err != nil {
			metrics.RecordProviderRequest(name, tier.Name, "skipped")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		result, err := tier.Generator.Generate(callCtx, req.Query, req.MaxTokens)
		cancel()

		elapsed := time.Since(start)
		m.mu.Lock()
		rec.lastResponse = elapsed
		m.mu.Unlock()

		if err != nil {
			rec.breaker.Record(false)
			m.publishBreakerState(name, rec)
			metrics.RecordProviderRequest(name, tier.Name, "failure")
			m.logger.Warn("provider attempt failed",
				zap.String("provider", name),
				zap.String("tier", tier.Name),
				zap.Error(err),
			)
			continue
		}

		rec.breaker.Record(true)
		m.publishBreakerState(name, rec)
		metrics.RecordProviderRequest(name, tier.Name, "success")

		violation := m.sla.Record(req.Type, elapsed)
		m.mu.Lock()
		rec.slaViolation = violation
		m.mu.Unlock()

		return &Response{
			Success:      true,
			Text:         result.Text,
			Provider:     name,
			Tier:         tier.Name,
			SLAViolation: violation,
		}
	}

	// Every ordered tier failed. Complete failure of the crisis path must
	// surface as an explicit human-escalation notification, never a silent
	// empty reply.
	m.logger.Error("all provider tiers exhausted",
		zap.String("request_type", string(req.Type)),
	)
	if m.onExhaust != nil {
		m.onExhaust(ctx, req)
	}

	text := exhaustedText
	if result, err := m.emergency.Generator.Generate(ctx, req.Query, req.MaxTokens); err == nil && result != nil && result.Text != "" {
		text = result.Text
	} else {
		m.logger.Error("emergency generator failed, serving canned text",
			zap.String("provider", m.emergency.Generator.Name()),
			zap.Error(err),
		)
	}
	metrics.RecordProviderRequest(m.emergency.Generator.Name(), m.emergency.Name, "success")

	violation := m.sla.Record(req.Type, time.Since(start))
	return &Response{
		Success:         true,
		Text:            text,
		Provider:        m.emergency.Generator.Name(),
		Tier:            m.emergency.Name,
		SLAViolation:    violation,
		HumanEscalation: true,
	}
}

func (m *Manager) record(name string) *providerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[name]
}

func (m *Manager) publishBreakerState(name string, rec *providerRecord) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(rec.breaker.State()))
}

// Health returns per-provider records plus SLA compliance for health
// reporting.
func (m *Manager) Health() ([]ProviderRecord, map[RequestType]float64) {
	m.mu.Lock()
	records := make([]ProviderRecord, 0, len(m.records))
	for name, rec := range m.records {
		records = append(records, ProviderRecord{
			Name:             name,
			Tier:             rec.tier,
			CircuitState:     rec.breaker.State().String(),
			ConsecutiveFails: rec.breaker.Failures(),
			LastResponseTime: rec.lastResponse,
			SLAViolation:     rec.slaViolation,
		})
	}
	m.mu.Unlock()

	return records, m.sla.Snapshot()
}
