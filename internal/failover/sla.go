package failover

import (
	"sync"
	"time"

	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

// RequestType classifies a generation request for SLA purposes.
type RequestType string

const (
	RequestCrisis    RequestType = "crisis"
	RequestDetection RequestType = "detection"
	RequestGeneral   RequestType = "general"
)

// slaWindowSize bounds the rolling compliance window per request type.
const slaWindowSize = 200

// SLATracker records, per request type, whether response time stayed under
// the type's configured limit, and exposes a rolling compliance percentage.
type SLATracker struct {
	mu      sync.Mutex
	limits  map[RequestType]time.Duration
	windows map[RequestType][]bool
}

// NewSLATracker creates a tracker with the given per-type latency limits.
func NewSLATracker(limits map[RequestType]time.Duration) *SLATracker {
	return &SLATracker{
		limits:  limits,
		windows: make(map[RequestType][]bool),
	}
}

// Record logs one request's elapsed time and reports whether it violated the
// type's limit.
func (t *SLATracker) Record(rt RequestType, elapsed time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit, ok := t.limits[rt]
	if !ok {
		return false
	}

	compliant := elapsed <= limit
	window := append(t.windows[rt], compliant)
	if len(window) > slaWindowSize {
		window = window[len(window)-slaWindowSize:]
	}
	t.windows[rt] = window

	metrics.SLACompliance.WithLabelValues(string(rt)).Set(complianceOf(window))
	return !compliant
}

// Compliance returns the rolling compliance ratio for a request type, or 1
// when nothing has been recorded.
func (t *SLATracker) Compliance(rt RequestType) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return complianceOf(t.windows[rt])
}

// Snapshot returns compliance per request type.
func (t *SLATracker) Snapshot() map[RequestType]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[RequestType]float64, len(t.limits))
	for rt := range t.limits {
		out[rt] = complianceOf(t.windows[rt])
	}
	return out
}

func complianceOf(window []bool) float64 {
	if len(window) == 0 {
		return 1
	}
	ok := 0
	for _, c := range window {
		if c {
			ok++
		}
	}
	return float64(ok) / float64(len(window))
}
