package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
)

const (
	replicateDefaultBaseURL = "https://api.replicate.com"
	replicateMaxPolls       = 60
	replicatePollInterval   = 2 * time.Second
)

// ReplicateProvider implements the ImageProvider for Replicate image-to-image
// models. The source image is passed by URL.
type ReplicateProvider struct {
	APIToken string
	// Model is "owner/name" for official models or "owner/name:version".
	Model   string
	BaseURL string
	Client  *http.Client
	Logger  zerolog.Logger

	PromptStrength float64
	InferenceSteps int
	OutputQuality  int

	PollInterval time.Duration
	MaxPolls     int
}

// ReplicateOptions configures NewReplicateProvider.
type ReplicateOptions struct {
	APIToken       string
	Model          string
	BaseURL        string
	Timeout        time.Duration
	PromptStrength float64
	InferenceSteps int
	OutputQuality  int
}

// NewReplicateProvider creates a new Replicate client.
func NewReplicateProvider(opts ReplicateOptions, logger zerolog.Logger) *ReplicateProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = replicateDefaultBaseURL
	}
	return &ReplicateProvider{
		APIToken:       opts.APIToken,
		Model:          opts.Model,
		BaseURL:        baseURL,
		Client:         &http.Client{Timeout: opts.Timeout},
		Logger:         logger,
		PromptStrength: opts.PromptStrength,
		InferenceSteps: opts.InferenceSteps,
		OutputQuality:  opts.OutputQuality,
		PollInterval:   replicatePollInterval,
		MaxPolls:       replicateMaxPolls,
	}
}

// GetName returns the name of the provider.
func (p *ReplicateProvider) GetName() string {
	return "replicate"
}

// Kind returns domain.ImageToImageRemote.
func (p *ReplicateProvider) Kind() domain.BackendKind {
	return domain.ImageToImageRemote
}

// RequiresImageURL returns true as Replicate fetches the source itself.
func (p *ReplicateProvider) RequiresImageURL() bool {
	return true
}

type replicateInput struct {
	Image             string  `json:"image"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	PromptStrength    float64 `json:"prompt_strength,omitempty"`
	Strength          float64 `json:"strength"`
	GuidanceScale     float64 `json:"guidance_scale"`
	OutputQuality     int     `json:"output_quality,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	NumOutputs        int     `json:"num_outputs"`
	AspectRatio       string  `json:"aspect_ratio"`
}

type replicatePayload struct {
	Version string         `json:"version,omitempty"`
	Input   replicateInput `json:"input"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Generate creates a prediction, waits for it and returns its first output.
func (p *ReplicateProvider) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if req.ImageURL == "" {
		return nil, domain.Validationf("replicate: image URL is required")
	}

	payload := replicatePayload{
		Input: replicateInput{
			Image:             req.ImageURL,
			Prompt:            req.Prompt,
			NegativePrompt:    req.NegativePrompt,
			PromptStrength:    p.PromptStrength,
			Strength:          req.Strength,
			GuidanceScale:     req.GuidanceScale,
			OutputQuality:     p.OutputQuality,
			NumInferenceSteps: p.InferenceSteps,
			NumOutputs:        req.OutputCount,
			AspectRatio:       req.Ratio.Token,
		},
	}
	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", p.BaseURL, p.Model)
	if _, version, ok := strings.Cut(p.Model, ":"); ok {
		payload.Version = version
		endpoint = p.BaseURL + "/v1/predictions"
	}

	p.Logger.Info().
		Str("provider", p.GetName()).
		Str("model", p.Model).
		Str("aspect_ratio", req.Ratio.Token).
		Float64("strength", req.Strength).
		Float64("guidance_scale", req.GuidanceScale).
		Str("prompt", req.Prompt).
		Msg("calling provider")

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("replicate: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIToken)
	httpReq.Header.Set("Prefer", "wait")

	prediction, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}

	for i := 0; ; i++ {
		switch prediction.Status {
		case "succeeded":
			url, ok := CoerceOutputURL(prediction.Output)
			if !ok {
				return nil, domain.RemoteError(domain.ErrGeneration, "replicate: no output returned", http.StatusOK, string(prediction.Output))
			}
			return &domain.GenerationResult{URL: url, Provider: p.GetName()}, nil
		case "failed", "canceled":
			return nil, domain.RemoteError(domain.ErrGeneration, "replicate: prediction "+prediction.Status, 0, fmt.Sprint(prediction.Error))
		}

		if i >= p.MaxPolls {
			return nil, domain.RemoteError(domain.ErrGeneration, fmt.Sprintf("replicate: polling timed out after %d attempts", p.MaxPolls), 0, "")
		}
		select {
		case <-ctx.Done():
			return nil, domain.Wrap(domain.ErrGeneration, "replicate", ctx.Err())
		case <-time.After(p.PollInterval):
		}

		pollURL := prediction.URLs.Get
		if pollURL == "" {
			pollURL = fmt.Sprintf("%s/v1/predictions/%s", p.BaseURL, prediction.ID)
		}
		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, fmt.Errorf("replicate: failed to create polling request: %w", err)
		}
		pollReq.Header.Set("Authorization", "Bearer "+p.APIToken)

		if prediction, err = p.do(pollReq); err != nil {
			return nil, err
		}
		p.Logger.Debug().Str("prediction", prediction.ID).Str("status", prediction.Status).Msg("replicate poll")
	}
}

func (p *ReplicateProvider) do(req *http.Request) (*replicatePrediction, error) {
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "replicate: failed to call external API", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "replicate: failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, domain.RemoteError(domain.ErrGeneration, "replicate", resp.StatusCode, string(body))
	}

	var prediction replicatePrediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, domain.RemoteError(domain.ErrGeneration, "replicate: malformed response", resp.StatusCode, string(body))
	}
	return &prediction, nil
}
