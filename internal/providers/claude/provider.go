package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"golang.org/x/time/rate"
)

const defaultRateInterval = 2 * time.Second

// Provider generates text through the Anthropic Message Batches API. Submit
// creates a one-request batch and returns its id as the provider task handle;
// Poll checks the batch processing status and streams results once it ends.
// Image and video generation are not supported.
type Provider struct {
	client  anthropic.Client
	limiter *rate.Limiter
	config  *common.ClaudeConfig
	logger  arbor.ILogger
}

var _ interfaces.GenerationProvider = (*Provider)(nil)

// New creates a Claude provider adapter.
func New(config *common.ClaudeConfig, logger arbor.ILogger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is not configured")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)
	interval := common.ParseDurationOr(config.RateLimit, defaultRateInterval)

	return &Provider{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		config:  config,
		logger:  logger,
	}, nil
}

func (p *Provider) Name() string {
	return "claude"
}

// Submit creates a message batch holding the single request.
func (p *Provider) Submit(ctx context.Context, req *interfaces.GenerationRequest) (*interfaces.SubmitResult, error) {
	if req.MediaType != models.MediaTypeText {
		return nil, interfaces.NewProviderError(interfaces.ProviderErrTerminal, 0,
			fmt.Sprintf("claude does not support media type %q", req.MediaType), nil)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	batch, err := p.client.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{
		Requests: []anthropic.MessageBatchNewParamsRequest{{
			CustomID: req.SubTaskID,
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:     anthropic.Model(model),
				MaxTokens: int64(maxTokens),
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
				},
			},
		}},
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	p.logger.Debug().
		Str("model", model).
		Str("batch_id", batch.ID).
		Msg("Message batch created")
	return &interfaces.SubmitResult{ProviderTaskID: batch.ID}, nil
}

// Poll checks the message batch status. Once processing has ended it fetches
// the result for the single request in the batch.
func (p *Provider) Poll(ctx context.Context, providerTaskID string) (*interfaces.StatusPayload, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	batch, err := p.client.Messages.Batches.Get(ctx, providerTaskID)
	if err != nil {
		return nil, p.mapError(err)
	}

	switch batch.ProcessingStatus {
	case anthropic.MessageBatchProcessingStatusInProgress:
		return &interfaces.StatusPayload{State: "processing"}, nil
	case anthropic.MessageBatchProcessingStatusCanceling:
		return &interfaces.StatusPayload{State: "processing", Message: "batch canceling"}, nil
	case anthropic.MessageBatchProcessingStatusEnded:
		return p.collectResult(ctx, providerTaskID)
	default:
		return &interfaces.StatusPayload{State: string(batch.ProcessingStatus)}, nil
	}
}

// collectResult streams the batch results and extracts the request outcome.
func (p *Provider) collectResult(ctx context.Context, batchID string) (*interfaces.StatusPayload, error) {
	stream := p.client.Messages.Batches.ResultsStreaming(ctx, batchID)
	defer stream.Close()

	for stream.Next() {
		entry := stream.Current()
		switch variant := entry.Result.AsAny().(type) {
		case anthropic.MessageBatchSucceededResult:
			var text strings.Builder
			for _, block := range variant.Message.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			return &interfaces.StatusPayload{
				State:    "completed",
				Progress: 100,
				Outputs: []models.OutputRef{{
					Type:    models.MediaTypeText,
					Content: text.String(),
				}},
			}, nil
		case anthropic.MessageBatchErroredResult:
			return &interfaces.StatusPayload{
				State:   "failed",
				Message: fmt.Sprintf("batch request errored: %s", variant.Error.RawJSON()),
			}, nil
		case anthropic.MessageBatchCanceledResult:
			return &interfaces.StatusPayload{State: "failed", Message: "batch request canceled"}, nil
		case anthropic.MessageBatchExpiredResult:
			return &interfaces.StatusPayload{State: "failed", Message: "batch request expired"}, nil
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.mapError(err)
	}
	return &interfaces.StatusPayload{
		State:   "failed",
		Message: "batch ended without a result entry",
	}, nil
}

// mapError translates Anthropic SDK errors into classified provider errors.
func (p *Provider) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return interfaces.NewProviderError(interfaces.ProviderErrAuth, apiErr.StatusCode, apiErr.Error(), err)
		case apiErr.StatusCode == 404:
			return interfaces.NewProviderError(interfaces.ProviderErrNotFound, apiErr.StatusCode, apiErr.Error(), err)
		case apiErr.StatusCode == 429:
			return interfaces.NewProviderError(interfaces.ProviderErrRateLimited, apiErr.StatusCode, apiErr.Error(), err)
		case apiErr.StatusCode >= 500:
			return interfaces.NewProviderError(interfaces.ProviderErrNetwork, apiErr.StatusCode, apiErr.Error(), err)
		default:
			return interfaces.NewProviderError(interfaces.ProviderErrTerminal, apiErr.StatusCode, apiErr.Error(), err)
		}
	}

	if strings.Contains(err.Error(), "429") || strings.Contains(err.Error(), "rate limit") {
		return interfaces.NewProviderError(interfaces.ProviderErrRateLimited, 429, err.Error(), err)
	}
	return err
}

func (p *Provider) Close() error {
	return nil
}
