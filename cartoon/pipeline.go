package cartoon

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"cartoonize/config"
	"cartoonize/domain"
	"cartoonize/imageproc"
	"cartoonize/providers"
	"cartoonize/style"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	uploadQuality     = 90
	describeThumbSize = 256
)

// Action is one user request to cartoonize a photo or a prompt.
type Action struct {
	Backend domain.BackendKind

	// Photo input, image-to-image backends.
	Upload       []byte
	Filename     string
	DeclaredSize int64
	Rotation     imageproc.Rotation

	// Prompt input, text-to-image backend.
	Prompt string

	Style string
	Ratio string

	// Zero means the configured default.
	Strength float64
	Guidance float64
}

// Pipeline runs actions against a session. It holds no per-session state.
type Pipeline struct {
	Config     *config.Config
	Catalog    *style.Catalog
	Normalizer *imageproc.Normalizer
	Logger     zerolog.Logger
}

// NewPipeline creates a pipeline using the limits in cfg.
func NewPipeline(cfg *config.Config, catalog *style.Catalog, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Config:  cfg,
		Catalog: catalog,
		Normalizer: &imageproc.Normalizer{
			MaxUploadBytes:         cfg.Settings.MaxUploadBytes,
			ReencodeThresholdBytes: cfg.Settings.ReencodeThresholdBytes,
			MaxDimension:           cfg.Settings.MaxDimension,
			Logger:                 logger,
		},
		Logger: logger,
	}
}

// Run executes the linear chain for one action: credentials, normalization,
// resolution, optional upload, generation and optional description. Every
// failure ends the action and leaves the session usable.
func (p *Pipeline) Run(ctx context.Context, sess *Session, a Action) (*StoredResult, error) {
	log := p.Logger.With().Str("session", sess.ID).Str("backend", a.Backend.String()).Logger()
	start := time.Now()

	if a.Backend == domain.BackendUnknown {
		return nil, domain.Validationf("backend is required")
	}
	if err := sess.Credentials.Require(a.Backend, p.Config.Generation.RemoteProvider); err != nil {
		log.Warn().Err(err).Msg("action blocked")
		return nil, err
	}

	source, err := p.normalize(a)
	if err != nil {
		log.Info().Err(err).Msg("input rejected")
		return nil, err
	}

	res, err := p.Catalog.Resolve(style.Params{
		Kind:           a.Backend,
		Style:          a.Style,
		Ratio:          a.Ratio,
		Text:           source.Prompt,
		Strength:       orDefault(a.Strength, p.Config.Generation.DefaultStrength),
		Guidance:       orDefault(a.Guidance, p.Config.Generation.DefaultGuidance),
		NegativePrompt: p.Config.Generation.NegativePrompt,
	})
	if err != nil {
		return nil, err
	}

	req := domain.GenerationRequest{
		Kind:           a.Backend,
		Source:         source,
		Style:          res.Style,
		Ratio:          res.Ratio,
		Prompt:         res.Prompt,
		NegativePrompt: res.NegativePrompt,
		Strength:       res.Strength,
		GuidanceScale:  res.Guidance,
		OutputCount:    1,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if sess.Generator.RequiresImageURL(a.Backend) {
		if req.ImageURL, err = p.upload(ctx, sess, source); err != nil {
			log.Error().Err(err).Msg("upload failed")
			return nil, err
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, p.Config.RequestTimeout())
	result, err := sess.Generator.Dispatch(genCtx, req)
	cancel()
	if err != nil {
		return nil, domain.Wrap(domain.ErrGeneration, "generate", err)
	}
	result.Caption = res.Caption

	if sess.Describer != nil {
		p.describe(ctx, sess, result, log)
	}

	stored := &StoredResult{
		ID:       uuid.NewString(),
		Source:   source,
		Result:   result,
		ImageURL: req.ImageURL,
		Created:  time.Now(),
	}
	sess.keep(stored)

	log.Info().
		Str("result", stored.ID).
		Str("provider", result.Provider).
		Str("style", res.Style.Token).
		Str("ratio", res.Ratio.Token).
		Dur("elapsed", time.Since(start)).
		Msg("action completed")
	return stored, nil
}

func (p *Pipeline) normalize(a Action) (*domain.SourceInput, error) {
	switch a.Backend.SourceKind() {
	case domain.SourceText:
		return p.Normalizer.Text(a.Prompt)
	default:
		return p.Normalizer.Image(a.Upload, a.Filename, a.DeclaredSize, a.Rotation)
	}
}

func (p *Pipeline) upload(ctx context.Context, sess *Session, source *domain.SourceInput) (string, error) {
	if sess.Uploader == nil {
		return "", domain.CredentialMissing("CLOUDFLARE_ACCOUNT_ID", "CLOUDFLARE_API_TOKEN")
	}
	ctx, cancel := context.WithTimeout(ctx, p.Config.RequestTimeout())
	defer cancel()

	if p.Config.Settings.VerifyStorageToken {
		if err := sess.verifyStorage(ctx); err != nil {
			return "", domain.Wrap(domain.ErrUpload, "verify storage token", err)
		}
	}

	data, err := imageproc.EncodeJPEG(source.Image, uploadQuality)
	if err != nil {
		return "", domain.Wrap(domain.ErrUpload, "encode", err)
	}
	url, err := sess.Uploader.UploadImage(ctx, data, jpegName(source.Filename))
	if err != nil {
		return "", domain.Wrap(domain.ErrUpload, "upload", err)
	}
	return url, nil
}

// describe attaches a description to result. Failures are logged and the
// display caption is kept.
func (p *Pipeline) describe(ctx context.Context, sess *Session, result *domain.GenerationResult, log zerolog.Logger) {
	ref := result.URL
	if !result.IsRemote() {
		if result.Image == nil {
			return
		}
		var err error
		if ref, err = imageproc.ThumbnailDataURL(result.Image, describeThumbSize); err != nil {
			log.Warn().Err(err).Msg("description skipped")
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.Config.RequestTimeout())
	defer cancel()
	text, err := sess.Describer.Describe(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Msg("description failed")
		return
	}
	result.Description = text
}

// Download returns the stored result id encoded as format. Remote results are
// fetched first; their bytes are passed through when already in format.
func (p *Pipeline) Download(ctx context.Context, sess *Session, id, format string) ([]byte, string, error) {
	stored, ok := sess.Result(id)
	if !ok {
		return nil, "", domain.Validationf("unknown result %q", id)
	}
	if format == "" {
		format = imageproc.FormatPNG
	}

	img := stored.Result.Image
	if stored.Result.IsRemote() {
		ctx, cancel := context.WithTimeout(ctx, p.Config.RequestTimeout())
		defer cancel()
		data, contentType, err := providers.DownloadFile(ctx, &http.Client{}, stored.Result.URL)
		if err != nil {
			return nil, "", domain.Wrap(domain.ErrProvider, "download", err)
		}
		if strings.EqualFold(contentType, "image/"+format) {
			return data, contentType, nil
		}
		if img, _, err = imageproc.Decode(data); err != nil {
			return nil, "", domain.Wrap(domain.ErrProvider, "download", err)
		}
	}

	data, contentType, err := imageproc.Encode(img, format)
	if err != nil {
		return nil, "", domain.Wrap(domain.ErrValidation, "download", err)
	}
	return data, contentType, nil
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func jpegName(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "upload"
	}
	return base + ".jpg"
}
