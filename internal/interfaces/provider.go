package interfaces

import (
	"context"
	"fmt"

	"github.com/ternarybob/fabrica/internal/models"
)

// ProviderErrorKind is the typed failure category assigned at the provider
// adapter boundary. HTTP-specific parsing stays inside the adapters; the
// engine only ever sees these kinds.
type ProviderErrorKind string

const (
	ProviderErrNetwork     ProviderErrorKind = "network"
	ProviderErrAuth        ProviderErrorKind = "auth"
	ProviderErrNotFound    ProviderErrorKind = "not_found"
	ProviderErrRateLimited ProviderErrorKind = "rate_limited"
	ProviderErrTerminal    ProviderErrorKind = "terminal"
)

// ProviderError is a classified error returned by a generation provider
// adapter from Submit or Poll.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a classified provider error wrapping the cause.
func NewProviderError(kind ProviderErrorKind, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        cause,
	}
}

// GenerationRequest is one unit of generation work handed to a provider.
type GenerationRequest struct {
	SubTaskID string
	MediaType string
	Model     string
	Prompt    string
}

// InlineResult is returned when the provider completed the work during
// submission instead of handing back an async task handle.
type InlineResult struct {
	Outputs []models.OutputRef
}

// SubmitResult is the outcome of starting one unit of generation work.
// Exactly one of ProviderTaskID or Inline is set.
type SubmitResult struct {
	ProviderTaskID string
	Inline         *InlineResult
}

// StatusPayload is the raw status of a previously submitted provider job.
// It must be classifiable by the outcome classifier: State carries the
// provider's own status string, normalized to lower case by the adapter.
type StatusPayload struct {
	State    string
	Progress int
	Outputs  []models.OutputRef
	Message  string
}

// GenerationProvider starts generation jobs and reports their status.
// Implementations wrap a concrete external service (Gemini, Claude) and
// translate its errors into ProviderError values.
type GenerationProvider interface {
	// Name identifies the provider for logging.
	Name() string

	// Submit starts one unit of generation work. It returns either an
	// async task handle for polling or an inline result.
	Submit(ctx context.Context, req *GenerationRequest) (*SubmitResult, error)

	// Poll checks the status of a previously submitted job.
	Poll(ctx context.Context, providerTaskID string) (*StatusPayload, error)

	// Close releases provider resources.
	Close() error
}

// ProviderResolver selects a provider for a model string.
type ProviderResolver interface {
	Resolve(ctx context.Context, model string) (GenerationProvider, error)

	// NormalizeModel returns the provider-facing model name, with any
	// routing prefix ("claude/", "gemini/", ...) removed. Callers must
	// normalize before passing a model to a provider API or a cost table.
	NormalizeModel(model string) string

	Close() error
}
