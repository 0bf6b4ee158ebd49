package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const defaultRateInterval = 4 * time.Second

// Provider generates text, images, and video through the Gemini API. Video
// generation is asynchronous: Submit returns the long-running operation name
// as the provider task handle and Poll checks it. Text and image generation
// complete inline during submission.
type Provider struct {
	client  *genai.Client
	limiter *rate.Limiter
	config  *common.GeminiConfig
	logger  arbor.ILogger
}

var _ interfaces.GenerationProvider = (*Provider)(nil)

// New creates a Gemini provider adapter.
func New(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	interval := common.ParseDurationOr(config.RateLimit, defaultRateInterval)

	return &Provider{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		config:  config,
		logger:  logger,
	}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

// Submit starts one unit of generation work. Video requests return an async
// operation handle; text and image requests return inline results.
func (p *Provider) Submit(ctx context.Context, req *interfaces.GenerationRequest) (*interfaces.SubmitResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	switch req.MediaType {
	case models.MediaTypeVideo:
		return p.submitVideo(ctx, model, req.Prompt)
	case models.MediaTypeImage:
		return p.generateImages(ctx, model, req.Prompt)
	case models.MediaTypeText:
		return p.generateText(ctx, model, req.Prompt)
	default:
		return nil, interfaces.NewProviderError(interfaces.ProviderErrTerminal, 0,
			fmt.Sprintf("unsupported media type %q", req.MediaType), nil)
	}
}

func (p *Provider) submitVideo(ctx context.Context, model, prompt string) (*interfaces.SubmitResult, error) {
	op, err := p.client.Models.GenerateVideos(ctx, model, prompt, nil, nil)
	if err != nil {
		return nil, p.mapError(err)
	}

	p.logger.Debug().
		Str("model", model).
		Str("operation", op.Name).
		Msg("Video generation operation started")
	return &interfaces.SubmitResult{ProviderTaskID: op.Name}, nil
}

func (p *Provider) generateImages(ctx context.Context, model, prompt string) (*interfaces.SubmitResult, error) {
	resp, err := p.client.Models.GenerateImages(ctx, model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.GeneratedImages) == 0 {
		return nil, interfaces.NewProviderError(interfaces.ProviderErrTerminal, 0,
			"gemini returned no images", nil)
	}

	outputs := make([]models.OutputRef, 0, len(resp.GeneratedImages))
	for _, img := range resp.GeneratedImages {
		if img.Image == nil {
			continue
		}
		mimeType := img.Image.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		outputs = append(outputs, models.OutputRef{
			Type:     models.MediaTypeImage,
			MIMEType: mimeType,
			URI:      dataURI(mimeType, img.Image.ImageBytes),
		})
	}
	return &interfaces.SubmitResult{Inline: &interfaces.InlineResult{Outputs: outputs}}, nil
}

func (p *Provider) generateText(ctx context.Context, model, prompt string) (*interfaces.SubmitResult, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, p.mapError(err)
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return nil, interfaces.NewProviderError(interfaces.ProviderErrTerminal, 0,
			"gemini returned empty response", nil)
	}
	return &interfaces.SubmitResult{Inline: &interfaces.InlineResult{
		Outputs: []models.OutputRef{{Type: models.MediaTypeText, Content: text.String()}},
	}}, nil
}

// Poll checks a video generation operation by name.
func (p *Provider) Poll(ctx context.Context, providerTaskID string) (*interfaces.StatusPayload, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	op := &genai.GenerateVideosOperation{Name: providerTaskID}
	op, err := p.client.Operations.GetVideosOperation(ctx, op, nil)
	if err != nil {
		return nil, p.mapError(err)
	}

	if !op.Done {
		return &interfaces.StatusPayload{State: "processing"}, nil
	}
	if op.Error != nil {
		return &interfaces.StatusPayload{
			State:   "failed",
			Message: fmt.Sprintf("video generation failed: %v", op.Error),
		}, nil
	}

	var outputs []models.OutputRef
	if op.Response != nil {
		for _, generated := range op.Response.GeneratedVideos {
			if generated.Video == nil {
				continue
			}
			mimeType := generated.Video.MIMEType
			if mimeType == "" {
				mimeType = "video/mp4"
			}
			uri := generated.Video.URI
			if uri == "" && len(generated.Video.VideoBytes) > 0 {
				uri = dataURI(mimeType, generated.Video.VideoBytes)
			}
			outputs = append(outputs, models.OutputRef{
				Type:     models.MediaTypeVideo,
				MIMEType: mimeType,
				URI:      uri,
			})
		}
	}
	return &interfaces.StatusPayload{State: "completed", Progress: 100, Outputs: outputs}, nil
}

// mapError translates Gemini SDK errors into classified provider errors.
func (p *Provider) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return interfaces.NewProviderError(interfaces.ProviderErrAuth, apiErr.Code, apiErr.Message, err)
		case apiErr.Code == 404:
			return interfaces.NewProviderError(interfaces.ProviderErrNotFound, apiErr.Code, apiErr.Message, err)
		case apiErr.Code == 429:
			return interfaces.NewProviderError(interfaces.ProviderErrRateLimited, apiErr.Code, apiErr.Message, err)
		case apiErr.Code >= 500:
			return interfaces.NewProviderError(interfaces.ProviderErrNetwork, apiErr.Code, apiErr.Message, err)
		default:
			return interfaces.NewProviderError(interfaces.ProviderErrTerminal, apiErr.Code, apiErr.Message, err)
		}
	}

	// The SDK does not type every failure; fall back to message markers
	// the API is known to use.
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "quota") {
		return interfaces.NewProviderError(interfaces.ProviderErrRateLimited, 429, msg, err)
	}

	return err
}

// Close releases the client reference. The genai client holds no connection
// state that needs explicit shutdown.
func (p *Provider) Close() error {
	p.client = nil
	return nil
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
