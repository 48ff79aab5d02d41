package provider

import (
	"context"
)

// StaticProvider returns a fixed response. It backs the always-available
// emergency tier and never fails.
type StaticProvider struct {
	name string
	text string
}

// NewStaticProvider creates a generator that always returns text.
func NewStaticProvider(name, text string) *StaticProvider {
	return &StaticProvider{name: name, text: text}
}

// Name implements Generator.
func (p *StaticProvider) Name() string {
	return p.name
}

// Generate implements Generator.
func (p *StaticProvider) Generate(ctx context.Context, prompt string, maxTokens int) (*GenerateResult, error) {
	return &GenerateResult{
		Text:  p.text,
		Model: p.name,
	}, nil
}
