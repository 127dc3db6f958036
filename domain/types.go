package domain

import (
	"fmt"
	"image"
	"strings"
)

// BackendKind identifies the class of generation provider targeted by a request.
type BackendKind int

const (
	BackendUnknown BackendKind = iota
	TextToImage
	ImageToImageRemote
	ImageToImageLocal
)

var backendNames = map[BackendKind]string{
	TextToImage:        "text-to-image",
	ImageToImageRemote: "image-to-image-remote",
	ImageToImageLocal:  "image-to-image-local",
}

func (k BackendKind) String() string {
	if name, ok := backendNames[k]; ok {
		return name
	}
	return "unknown"
}

// BackendKinds lists every supported backend kind.
func BackendKinds() []BackendKind {
	return []BackendKind{TextToImage, ImageToImageRemote, ImageToImageLocal}
}

// ParseBackendKind accepts the canonical names plus the short aliases
// "prompt", "remote" and "local".
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text-to-image", "prompt", "t2i":
		return TextToImage, nil
	case "image-to-image-remote", "remote", "photo", "i2i":
		return ImageToImageRemote, nil
	case "image-to-image-local", "local":
		return ImageToImageLocal, nil
	}
	return BackendUnknown, Validationf("unknown backend %q", s)
}

// SourceKind returns the input source the backend consumes.
func (k BackendKind) SourceKind() SourceKind {
	if k == TextToImage {
		return SourceText
	}
	return SourceImage
}

// UsesStrength reports whether strength is meaningful for the backend.
func (k BackendKind) UsesStrength() bool {
	return k == ImageToImageRemote || k == ImageToImageLocal
}

// UsesGuidance reports whether guidance scale is meaningful for the backend.
func (k BackendKind) UsesGuidance() bool {
	return k == ImageToImageRemote || k == ImageToImageLocal
}

// Size tokens accepted by prompt-to-image providers.
var PixelSizeTokens = []string{"1024x1024", "1792x1024", "1024x1792"}

// Ratio tokens accepted by image-to-image providers.
var AspectRatioTokens = []string{"1:1", "4:3", "16:9", "3:4", "9:16"}

// RatioTokens returns the token set valid for the backend.
func (k BackendKind) RatioTokens() []string {
	switch k {
	case TextToImage:
		return PixelSizeTokens
	case ImageToImageRemote, ImageToImageLocal:
		return AspectRatioTokens
	}
	return nil
}

// AcceptsRatioToken reports whether token belongs to the backend's set.
func (k BackendKind) AcceptsRatioToken(token string) bool {
	for _, t := range k.RatioTokens() {
		if t == token {
			return true
		}
	}
	return false
}

// SourceKind discriminates SourceInput.
type SourceKind int

const (
	SourceImage SourceKind = iota + 1
	SourceText
)

func (k SourceKind) String() string {
	switch k {
	case SourceImage:
		return "photo"
	case SourceText:
		return "prompt"
	}
	return "unknown"
}

// SourceInput is the normalized user input of one run. Image fields are set
// when Kind is SourceImage, Prompt when Kind is SourceText.
type SourceInput struct {
	Kind SourceKind

	Image        image.Image
	Encoded      []byte // PNG transport encoding of Image
	Filename     string
	DeclaredSize int64

	Prompt string
}

// StyleOption is an entry of the style catalog.
type StyleOption struct {
	Label   string `yaml:"label" json:"label"`
	Display string `yaml:"-" json:"display"`
	Token   string `yaml:"-" json:"token"`
	Hint    string `yaml:"hint,omitempty" json:"hint,omitempty"`
}

// AspectRatioOption is an entry of a backend's ratio set.
type AspectRatioOption struct {
	Label   string `json:"label"`
	Display string `json:"display"`
	Token   string `json:"token"`
}

// GenerationRequest is built once per user action and never persisted.
type GenerationRequest struct {
	Kind   BackendKind
	Source *SourceInput

	// ImageURL is the storage URL of the source, required by providers
	// that fetch the image themselves.
	ImageURL string

	Style          StyleOption
	Ratio          AspectRatioOption
	Prompt         string
	NegativePrompt string
	Strength       float64
	GuidanceScale  float64
	OutputCount    int
}

// Bounds of the numeric generation parameters.
const (
	MinStrength = 0.1
	MaxStrength = 0.9
	MinGuidance = 1.0
	MaxGuidance = 15.0
)

// Validate checks the request against its backend kind.
func (r *GenerationRequest) Validate() error {
	if _, ok := backendNames[r.Kind]; !ok {
		return Validationf("unknown backend kind %d", r.Kind)
	}
	if r.Source == nil {
		return Validationf("source input is required")
	}
	if want := r.Kind.SourceKind(); r.Source.Kind != want {
		return Validationf("%s backend requires a %s source, got %s", r.Kind, want, r.Source.Kind)
	}
	if !r.Kind.AcceptsRatioToken(r.Ratio.Token) {
		return Validationf("ratio %q is not valid for %s backend (expected one of %v)", r.Ratio.Token, r.Kind, r.Kind.RatioTokens())
	}
	if r.Style.Token == "" {
		return Validationf("style is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return Validationf("prompt is empty")
	}
	if r.Kind.UsesStrength() && (r.Strength < MinStrength || r.Strength > MaxStrength) {
		return Validationf("strength %.2f out of range [%.1f, %.1f]", r.Strength, MinStrength, MaxStrength)
	}
	if r.Kind.UsesGuidance() && (r.GuidanceScale < MinGuidance || r.GuidanceScale > MaxGuidance) {
		return Validationf("guidance scale %.2f out of range [%.0f, %.0f]", r.GuidanceScale, MinGuidance, MaxGuidance)
	}
	if r.OutputCount != 1 {
		return Validationf("output count must be 1, got %d", r.OutputCount)
	}
	return nil
}

// GenerationResult is either a remote URL or an in-memory image.
type GenerationResult struct {
	URL   string
	Image image.Image

	Provider    string
	Caption     string
	Description string
}

// IsRemote reports whether the result is referenced by URL.
func (r *GenerationResult) IsRemote() bool { return r.URL != "" }

// Ref returns a printable reference to the result.
func (r *GenerationResult) Ref() string {
	if r.URL != "" {
		return r.URL
	}
	if r.Image != nil {
		b := r.Image.Bounds()
		return fmt.Sprintf("in-memory image %dx%d", b.Dx(), b.Dy())
	}
	return ""
}
