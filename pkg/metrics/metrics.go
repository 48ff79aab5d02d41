// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks processed conversation turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Total conversation turns processed",
		},
		[]string{"topic", "outcome"},
	)

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_turn_duration_seconds",
			Help:    "End-to-end turn processing duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"topic"},
	)

	// CrisisTurnDuration tracks crisis-path latency separately so the
	// crisis SLA can be alerted on.
	CrisisTurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crisis_turn_duration_seconds",
			Help:    "Crisis path turn duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		},
	)

	// AgentMessagesTotal tracks agent protocol messages by protocol and result.
	AgentMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_messages_total",
			Help: "Total agent protocol messages sent",
		},
		[]string{"protocol", "result"},
	)

	// AgentResponseDuration tracks per-agent response time.
	AgentResponseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_response_duration_seconds",
			Help:    "Agent response duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"agent"},
	)

	// ProviderRequestsTotal tracks generation attempts per provider tier.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total text-generation requests per provider",
		},
		[]string{"provider", "tier", "result"},
	)

	// CircuitBreakerState reports each provider breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// SLACompliance reports rolling SLA compliance per request type.
	SLACompliance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sla_compliance_ratio",
			Help: "Rolling SLA compliance per request type",
		},
		[]string{"request_type"},
	)

	// EscalationsTotal tracks escalation notifications by delivery result.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Total escalation notifications",
		},
		[]string{"severity", "result"},
	)

	// ActiveConversations tracks conversations currently held in state.
	ActiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_conversations",
			Help: "Conversations currently tracked in memory",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a processed conversation turn.
func RecordTurn(topic, outcome string, duration float64) {
	TurnsTotal.WithLabelValues(topic, outcome).Inc()
	TurnDuration.WithLabelValues(topic).Observe(duration)
}

// RecordAgentMessage records a protocol delivery attempt.
func RecordAgentMessage(protocol, result string) {
	AgentMessagesTotal.WithLabelValues(protocol, result).Inc()
}

// RecordProviderRequest records a generation attempt against a provider tier.
func RecordProviderRequest(provider, tier, result string) {
	ProviderRequestsTotal.WithLabelValues(provider, tier, result).Inc()
}
