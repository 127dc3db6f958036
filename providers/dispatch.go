package providers

import (
	"context"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
)

// Dispatcher routes a GenerationRequest to the provider registered for its
// backend kind.
type Dispatcher struct {
	providers map[domain.BackendKind]ImageProvider
	logger    zerolog.Logger
}

// NewDispatcher registers providers by their Kind. A later provider of the
// same kind replaces an earlier one.
func NewDispatcher(logger zerolog.Logger, providers ...ImageProvider) *Dispatcher {
	d := &Dispatcher{providers: make(map[domain.BackendKind]ImageProvider), logger: logger}
	for _, p := range providers {
		if p == nil {
			continue
		}
		d.providers[p.Kind()] = p
	}
	return d
}

// Provider returns the provider registered for kind.
func (d *Dispatcher) Provider(kind domain.BackendKind) (ImageProvider, bool) {
	p, ok := d.providers[kind]
	return p, ok
}

// RequiresImageURL reports whether the provider for kind needs the source
// uploaded to storage first.
func (d *Dispatcher) RequiresImageURL(kind domain.BackendKind) bool {
	p, ok := d.providers[kind]
	return ok && p.RequiresImageURL()
}

// Dispatch validates req and invokes exactly one generation call.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if req.OutputCount == 0 {
		req.OutputCount = 1
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, ok := d.providers[req.Kind]
	if !ok {
		return nil, &domain.Error{Kind: domain.ErrCredentialMissing, Op: "dispatch", Message: "no provider configured for " + req.Kind.String()}
	}
	if p.RequiresImageURL() && req.ImageURL == "" {
		return nil, domain.Validationf("%s requires an uploaded image URL", p.GetName())
	}

	start := time.Now()
	result, err := p.Generate(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Error().Err(err).Str("provider", p.GetName()).Dur("elapsed", elapsed).Msg("generation failed")
		return nil, domain.Wrap(domain.ErrGeneration, p.GetName(), err)
	}
	if result == nil {
		d.logger.Error().Str("provider", p.GetName()).Dur("elapsed", elapsed).Msg("generation returned no result")
		return nil, domain.RemoteError(domain.ErrGeneration, p.GetName()+": no result returned", 0, "")
	}
	if result.Provider == "" {
		result.Provider = p.GetName()
	}
	d.logger.Info().Str("provider", p.GetName()).Dur("elapsed", elapsed).Str("result", result.Ref()).Msg("generation done")
	return result, nil
}
