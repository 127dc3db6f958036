// Package cartoon runs the cartoonize workflow for one user session: input
// normalization, style resolution, optional storage upload, generation and
// description.
package cartoon

import (
	"context"
	"sync"
	"time"

	"cartoonize/config"
	"cartoonize/describe"
	"cartoonize/domain"
	"cartoonize/imagehost"
	"cartoonize/providers"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxStoredResults is how many results a session keeps for download.
const MaxStoredResults = 8

// Uploader publishes a source image and returns its public URL.
type Uploader interface {
	VerifyToken(ctx context.Context) error
	UploadImage(ctx context.Context, imageBytes []byte, filename string) (string, error)
}

// Generator dispatches generation requests to a backend.
type Generator interface {
	Dispatch(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	RequiresImageURL(kind domain.BackendKind) bool
}

// StoredResult is a generation result kept for the presentation layer.
type StoredResult struct {
	ID       string
	Source   *domain.SourceInput
	Result   *domain.GenerationResult
	ImageURL string
	Created  time.Time
}

// Session is the explicit context of one user session. The credentials and
// clients are fixed when the session is created; only the result store
// changes afterwards.
type Session struct {
	ID          string
	Created     time.Time
	Credentials config.Credentials

	Uploader  Uploader
	Generator Generator
	Describer describe.Describer

	mu       sync.Mutex
	verified bool
	results  []*StoredResult

	lastSeen time.Time // guarded by Registry.mu
}

// NewSession resolves the clients the credentials allow. Backends whose
// credentials are missing are left unregistered; the pipeline reports them as
// CredentialMissing when used.
func NewSession(cfg *config.Config, creds config.Credentials, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	logger = logger.With().Str("session", id).Logger()
	timeout := cfg.RequestTimeout()

	s := &Session{ID: id, Created: time.Now(), Credentials: creds}

	var ps []providers.ImageProvider
	if creds.OpenAIKey != "" {
		ps = append(ps, providers.NewOpenAIProvider(creds.OpenAIKey, cfg.Endpoints.OpenAI, cfg.Models.OpenAIImage, timeout, logger))
		if cfg.Settings.DescribeResults {
			s.Describer = describe.NewOpenAIDescriber(creds.OpenAIKey, cfg.Endpoints.OpenAI, cfg.Models.OpenAIChat, cfg.Settings.Language, timeout, logger)
		}
	}

	switch cfg.Generation.RemoteProvider {
	case config.RemoteReplicate:
		if creds.ReplicateToken != "" {
			ps = append(ps, providers.NewReplicateProvider(providers.ReplicateOptions{
				APIToken:       creds.ReplicateToken,
				Model:          cfg.Models.Replicate,
				BaseURL:        cfg.Endpoints.Replicate,
				Timeout:        timeout,
				PromptStrength: cfg.Generation.PromptStrength,
				InferenceSteps: cfg.Generation.InferenceSteps,
				OutputQuality:  cfg.Generation.OutputQuality,
			}, logger))
		}
	case config.RemoteCloudflareWorker:
		ps = append(ps, providers.NewCloudflareWorkerProvider(cfg.CloudflareCredentials.WorkerURL, timeout, logger))
	}

	ps = append(ps, providers.NewLocalDiffusionProvider(providers.LocalDiffusionOptions{
		BaseURL:      cfg.Endpoints.LocalDiffusion,
		BaseModel:    cfg.Models.LocalBase,
		ControlModel: cfg.Models.LocalControl,
		Steps:        cfg.Generation.InferenceSteps,
		Timeout:      timeout,
	}, logger))

	if creds.CloudflareAccountID != "" && creds.CloudflareAPIToken != "" {
		s.Uploader = imagehost.NewCloudflareClient(creds.CloudflareAccountID, creds.CloudflareAPIToken, cfg.CloudflareCredentials.APIURL, timeout, logger)
	}
	s.Generator = providers.NewDispatcher(logger, ps...)

	logger.Info().Stringer("credentials", creds).Int("providers", len(ps)).Msg("session started")
	return s
}

// verifyStorage checks the storage token once per session. A failed check is
// retried on the next upload.
func (s *Session) verifyStorage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verified {
		return nil
	}
	if err := s.Uploader.VerifyToken(ctx); err != nil {
		return err
	}
	s.verified = true
	return nil
}

func (s *Session) keep(r *StoredResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	if n := len(s.results); n > MaxStoredResults {
		s.results = append([]*StoredResult(nil), s.results[n-MaxStoredResults:]...)
	}
}

// Result returns a stored result by id.
func (s *Session) Result(id string) (*StoredResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Results returns the stored results, oldest first.
func (s *Session) Results() []*StoredResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*StoredResult(nil), s.results...)
}

// Registry holds the live sessions of the web presentation layer. Sessions
// unused for longer than the configured idle timeout are discarded.
type Registry struct {
	cfg    *config.Config
	logger zerolog.Logger
	idle   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		idle:     cfg.SessionIdleTimeout(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session from the configured credentials overlaid with
// override.
func (r *Registry) Create(override config.Credentials) *Session {
	s := NewSession(r.cfg, r.cfg.Credentials().Merge(override), r.logger)
	r.add(s)
	return s
}

// Get returns the live session with id and marks it as used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if r.expired(s, now) {
		delete(r.sessions, id)
		r.logger.Info().Str("session", id).Msg("session expired")
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

// Replace ends session id, if any, and starts a new one whose credentials
// are the old ones overlaid with override.
func (r *Registry) Replace(id string, override config.Credentials) *Session {
	base := r.cfg.Credentials()
	r.mu.Lock()
	if old, ok := r.sessions[id]; ok {
		base = old.Credentials
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	s := NewSession(r.cfg, base.Merge(override), r.logger)
	r.add(s)
	return s
}

// End discards the session and everything it holds.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.logger.Info().Str("session", id).Msg("session ended")
	}
}

// Sweep discards idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweep(r.now())
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweep(now)
	s.lastSeen = now
	r.sessions[s.ID] = s
}

// sweep requires r.mu.
func (r *Registry) sweep(now time.Time) int {
	removed := 0
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("expired", removed).Int("live", len(r.sessions)).Msg("idle sessions discarded")
	}
	return removed
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	return r.idle > 0 && now.Sub(s.lastSeen) > r.idle
}
