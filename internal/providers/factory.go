package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/providers/claude"
	"github.com/ternarybob/fabrica/internal/providers/gemini"
)

// ProviderType identifies a concrete generation backend.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderClaude ProviderType = "claude"
)

// Factory resolves model strings to provider adapters, constructing each
// adapter lazily on first use and reusing it afterwards.
type Factory struct {
	config *common.Config
	logger arbor.ILogger

	mu     sync.Mutex
	gemini interfaces.GenerationProvider
	claude interfaces.GenerationProvider
}

var _ interfaces.ProviderResolver = (*Factory)(nil)

// NewFactory creates a provider resolver over the configured backends.
func NewFactory(config *common.Config, logger arbor.ILogger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

// DetectProvider determines the provider type from a model string.
// Model strings can carry an explicit prefix ("gemini/...", "claude/...")
// or be matched by naming convention ("gemini-*", "claude-*"). An empty or
// unrecognized model falls back to the configured default provider.
func DetectProvider(model, defaultProvider string) ProviderType {
	if model == "" {
		return ProviderType(defaultProvider)
	}

	model = strings.ToLower(model)

	if strings.HasPrefix(model, "claude/") || strings.HasPrefix(model, "anthropic/") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini/") || strings.HasPrefix(model, "google/") {
		return ProviderGemini
	}

	if strings.HasPrefix(model, "claude-") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini-") || strings.HasPrefix(model, "veo-") || strings.HasPrefix(model, "imagen-") {
		return ProviderGemini
	}

	return ProviderType(defaultProvider)
}

// NormalizeModel removes a provider prefix from the model name if present.
func NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// NormalizeModel implements interfaces.ProviderResolver.
func (f *Factory) NormalizeModel(model string) string {
	return NormalizeModel(model)
}

// Resolve returns the provider adapter for the given model string.
func (f *Factory) Resolve(ctx context.Context, model string) (interfaces.GenerationProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch DetectProvider(model, f.config.Providers.Default) {
	case ProviderGemini:
		if f.gemini == nil {
			provider, err := gemini.New(ctx, &f.config.Gemini, f.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize gemini provider: %w", err)
			}
			f.gemini = provider
		}
		return f.gemini, nil
	case ProviderClaude:
		if f.claude == nil {
			provider, err := claude.New(&f.config.Claude, f.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize claude provider: %w", err)
			}
			f.claude = provider
		}
		return f.claude, nil
	default:
		return nil, fmt.Errorf("no provider for model %q", model)
	}
}

// Close releases all constructed provider adapters.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, p := range []interfaces.GenerationProvider{f.gemini, f.claude} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.gemini = nil
	f.claude = nil
	return firstErr
}
