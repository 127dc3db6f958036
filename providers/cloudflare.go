package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
)

// CloudflareWorkerProvider implements the ImageProvider for the cartoonize
// Cloudflare worker, which takes the photo bytes and a style token.
type CloudflareWorkerProvider struct {
	WorkerURL string
	Client    *http.Client
	Logger    zerolog.Logger
}

// NewCloudflareWorkerProvider creates a new worker client.
func NewCloudflareWorkerProvider(workerURL string, timeout time.Duration, logger zerolog.Logger) *CloudflareWorkerProvider {
	return &CloudflareWorkerProvider{
		WorkerURL: workerURL,
		Client:    &http.Client{Timeout: timeout},
		Logger:    logger,
	}
}

// GetName returns the name of the provider.
func (p *CloudflareWorkerProvider) GetName() string {
	return "cloudflare-worker"
}

// Kind returns domain.ImageToImageRemote.
func (p *CloudflareWorkerProvider) Kind() domain.BackendKind {
	return domain.ImageToImageRemote
}

// RequiresImageURL returns true. The worker takes the photo bytes, but it only
// runs once the source is stored, so a failed upload ends the action.
func (p *CloudflareWorkerProvider) RequiresImageURL() bool {
	return true
}

// cloudflareWorkerResponse mirrors the Cloudflare Images result envelope.
type cloudflareWorkerResponse struct {
	Result struct {
		Variants json.RawMessage `json:"variants"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Generate posts the photo and style token to the worker.
func (p *CloudflareWorkerProvider) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if p.WorkerURL == "" {
		return nil, domain.CredentialMissing("CLOUDFLARE_WORKER_URL")
	}
	if req.Source == nil || len(req.Source.Encoded) == 0 {
		return nil, domain.Validationf("cloudflare-worker: image bytes are required")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", req.Source.Filename)
	if err != nil {
		return nil, fmt.Errorf("cloudflare-worker: failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Source.Encoded); err != nil {
		return nil, fmt.Errorf("cloudflare-worker: failed to copy image bytes to form: %w", err)
	}
	if err := writer.WriteField("style", req.Style.Token); err != nil {
		return nil, fmt.Errorf("cloudflare-worker: failed to write style field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("cloudflare-worker: failed to close form: %w", err)
	}

	p.Logger.Info().
		Str("provider", p.GetName()).
		Str("style", req.Style.Token).
		Int("bytes", len(req.Source.Encoded)).
		Msg("calling provider")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.WorkerURL, body)
	if err != nil {
		return nil, fmt.Errorf("cloudflare-worker: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "cloudflare-worker: failed to call external API", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "cloudflare-worker: failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.RemoteError(domain.ErrGeneration, "cloudflare-worker", resp.StatusCode, string(respBody))
	}

	var workerResp cloudflareWorkerResponse
	if err := json.Unmarshal(respBody, &workerResp); err != nil {
		return nil, domain.RemoteError(domain.ErrGeneration, "cloudflare-worker: malformed response", resp.StatusCode, string(respBody))
	}
	if len(workerResp.Errors) > 0 {
		return nil, domain.RemoteError(domain.ErrGeneration, "cloudflare-worker: "+workerResp.Errors[0].Message, resp.StatusCode, string(respBody))
	}
	url, ok := CoerceOutputURL(workerResp.Result.Variants)
	if !ok {
		return nil, domain.RemoteError(domain.ErrGeneration, "cloudflare-worker: no variants returned", resp.StatusCode, string(respBody))
	}
	return &domain.GenerationResult{URL: url, Provider: p.GetName()}, nil
}
