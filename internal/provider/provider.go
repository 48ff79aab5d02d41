// Package provider adapts upstream text-generation services to the narrow
// port the failover engine consumes.
package provider

import (
	"context"
)

// GenerateResult is one completed generation.
type GenerateResult struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// Generator produces text for a prompt. Implementations are invoked only
// through the failover manager.
type Generator interface {
	// Generate completes the prompt, honoring ctx cancellation.
	Generate(ctx context.Context, prompt string, maxTokens int) (*GenerateResult, error)

	// Name returns the provider name used in tier records and metrics.
	Name() string
}
