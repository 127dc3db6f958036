package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the ImageProvider for OpenAI prompt-to-image.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIProvider creates a new OpenAI image client. An empty baseURL
// selects the public API.
func NewOpenAIProvider(apiKey, baseURL, model string, timeout time.Duration, logger zerolog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// GetName returns the name of the provider.
func (p *OpenAIProvider) GetName() string {
	return "openai"
}

// Kind returns domain.TextToImage.
func (p *OpenAIProvider) Kind() domain.BackendKind {
	return domain.TextToImage
}

// RequiresImageURL returns false as the prompt is the only input.
func (p *OpenAIProvider) RequiresImageURL() bool {
	return false
}

// Generate sends the prompt and size token and returns the single image URL.
func (p *OpenAIProvider) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	p.logger.Info().
		Str("provider", p.GetName()).
		Str("model", p.model).
		Str("size", req.Ratio.Token).
		Str("prompt", req.Prompt).
		Msg("calling provider")

	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          p.model,
		N:              req.OutputCount,
		Size:           req.Ratio.Token,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, openAIError(domain.ErrGeneration, "openai", err)
	}

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, domain.RemoteError(domain.ErrGeneration, "openai: no images returned in response", http.StatusOK, "")
	}
	return &domain.GenerationResult{URL: resp.Data[0].URL, Provider: p.GetName()}, nil
}

// openAIError converts go-openai errors to the domain taxonomy, keeping the
// provider's message as the body.
func openAIError(kind error, op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.Error{Kind: kind, Op: op, Message: kind.Error(), Status: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.Error{Kind: kind, Op: op, Message: kind.Error(), Status: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	return domain.Wrap(kind, op, err)
}
