package providers

import (
	"context"

	"cartoonize/domain"
)

// ImageProvider is the interface that all generation backends implement.
type ImageProvider interface {
	// Generate sends exactly one generation request. The returned result
	// carries either a URL or an in-memory image.
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	// GetName returns the name of the provider (e.g., "replicate").
	GetName() string
	// Kind returns the backend kind the provider serves.
	Kind() domain.BackendKind
	// RequiresImageURL returns true if the provider needs a storage URL
	// instead of image bytes for image-to-image tasks.
	RequiresImageURL() bool
}
