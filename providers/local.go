package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cartoonize/domain"
	"cartoonize/imageproc"

	"github.com/rs/zerolog"
)

const (
	localDefaultURL  = "http://127.0.0.1:7860"
	localShortSide   = 512
	localControlType = "tile_resample"
)

// LocalDiffusionProvider runs image-to-image on a Stable Diffusion pipeline
// served on the local machine, conditioned on the source photo through a
// ControlNet model. The result is decoded in memory; no URL is produced.
type LocalDiffusionProvider struct {
	BaseURL      string
	BaseModel    string
	ControlModel string
	Steps        int
	Client       *http.Client
	Logger       zerolog.Logger

	mu     sync.Mutex
	loaded bool
}

// LocalDiffusionOptions configures NewLocalDiffusionProvider.
type LocalDiffusionOptions struct {
	BaseURL      string
	BaseModel    string
	ControlModel string
	Steps        int
	Timeout      time.Duration
}

// NewLocalDiffusionProvider creates a client for the local pipeline.
func NewLocalDiffusionProvider(opts LocalDiffusionOptions, logger zerolog.Logger) *LocalDiffusionProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = localDefaultURL
	}
	return &LocalDiffusionProvider{
		BaseURL:      baseURL,
		BaseModel:    opts.BaseModel,
		ControlModel: opts.ControlModel,
		Steps:        opts.Steps,
		Client:       &http.Client{Timeout: opts.Timeout},
		Logger:       logger,
	}
}

// GetName returns the name of the provider.
func (p *LocalDiffusionProvider) GetName() string {
	return "local-diffusion"
}

// Kind returns domain.ImageToImageLocal.
func (p *LocalDiffusionProvider) Kind() domain.BackendKind {
	return domain.ImageToImageLocal
}

// RequiresImageURL returns false as the pipeline takes the decoded source.
func (p *LocalDiffusionProvider) RequiresImageURL() bool {
	return false
}

type localControlUnit struct {
	Enabled bool   `json:"enabled"`
	Module  string `json:"module"`
	Model   string `json:"model"`
	Image   string `json:"image"`
}

type localImg2ImgPayload struct {
	InitImages        []string `json:"init_images"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	DenoisingStrength float64  `json:"denoising_strength"`
	CfgScale          float64  `json:"cfg_scale"`
	Steps             int      `json:"steps,omitempty"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	BatchSize         int      `json:"batch_size"`
	AlwaysOnScripts   struct {
		ControlNet struct {
			Args []localControlUnit `json:"args"`
		} `json:"controlnet"`
	} `json:"alwayson_scripts"`
}

type localImg2ImgResponse struct {
	Images []string `json:"images"`
}

// Load selects the base checkpoint once. Later calls are no-ops until a load
// succeeds; a failed load is retried on the next call.
func (p *LocalDiffusionProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded || p.BaseModel == "" {
		return nil
	}

	start := time.Now()
	payload, _ := json.Marshal(map[string]string{"sd_model_checkpoint": p.BaseModel})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/sdapi/v1/options", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("local-diffusion: failed to create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return domain.Wrap(domain.ErrGeneration, "local-diffusion: pipeline unavailable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.RemoteError(domain.ErrGeneration, "local-diffusion: failed to load "+p.BaseModel, resp.StatusCode, string(body))
	}

	p.loaded = true
	p.Logger.Info().Str("model", p.BaseModel).Dur("elapsed", time.Since(start)).Msg("local pipeline loaded")
	return nil
}

// Generate conditions the pipeline on the source photo and decodes the first
// output image.
func (p *LocalDiffusionProvider) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if req.Source == nil || len(req.Source.Encoded) == 0 {
		return nil, domain.Validationf("local-diffusion: source image is required")
	}
	if err := p.Load(ctx); err != nil {
		return nil, err
	}

	width, height, err := RatioDimensions(req.Ratio.Token, localShortSide)
	if err != nil {
		return nil, err
	}
	source := base64.StdEncoding.EncodeToString(req.Source.Encoded)

	payload := localImg2ImgPayload{
		InitImages:        []string{source},
		Prompt:            req.Prompt,
		NegativePrompt:    req.NegativePrompt,
		DenoisingStrength: req.Strength,
		CfgScale:          req.GuidanceScale,
		Steps:             p.Steps,
		Width:             width,
		Height:            height,
		BatchSize:         req.OutputCount,
	}
	payload.AlwaysOnScripts.ControlNet.Args = []localControlUnit{{
		Enabled: true,
		Module:  localControlType,
		Model:   p.ControlModel,
		Image:   source,
	}}

	p.Logger.Info().
		Str("provider", p.GetName()).
		Str("model", p.BaseModel).
		Str("control_model", p.ControlModel).
		Int("width", width).
		Int("height", height).
		Str("prompt", req.Prompt).
		Msg("calling provider")

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("local-diffusion: failed to marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/sdapi/v1/img2img", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("local-diffusion: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "local-diffusion: failed to call pipeline", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "local-diffusion: failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.RemoteError(domain.ErrGeneration, "local-diffusion", resp.StatusCode, string(body))
	}

	var out localImg2ImgResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.RemoteError(domain.ErrGeneration, "local-diffusion: malformed response", resp.StatusCode, truncate(string(body), 512))
	}
	if len(out.Images) == 0 {
		return nil, domain.RemoteError(domain.ErrGeneration, "local-diffusion: no images returned", resp.StatusCode, "")
	}

	data, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "local-diffusion: failed to decode base64 image data", err)
	}
	img, _, err := imageproc.Decode(data)
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "local-diffusion", err)
	}
	return &domain.GenerationResult{Image: img, Provider: p.GetName()}, nil
}

// RatioDimensions converts a ratio token such as "16:9" to pixel dimensions
// whose short side is shortSide, rounded down to a multiple of 8.
func RatioDimensions(token string, shortSide int) (int, int, error) {
	w, h, ok := strings.Cut(token, ":")
	if !ok {
		return 0, 0, domain.Validationf("ratio %q is not of the form W:H", token)
	}
	rw, errW := strconv.Atoi(w)
	rh, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || rw <= 0 || rh <= 0 {
		return 0, 0, domain.Validationf("ratio %q is not of the form W:H", token)
	}
	if rw >= rh {
		return shortSide * rw / rh / 8 * 8, shortSide, nil
	}
	return shortSide, shortSide * rh / rw / 8 * 8, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
