// Package imageproc validates and prepares user input before generation.
package imageproc

import (
	"bytes"
	"image"
	_ "image/jpeg" // Keep for decoding jpegs
	_ "image/png"
	"strings"
	"unicode/utf8"

	"cartoonize/domain"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
)

// MinPromptLength is the shortest free-text prompt accepted.
const MinPromptLength = 10

// Rotation is the user's rotation choice for an uploaded photo.
type Rotation int

const (
	RotateNone Rotation = iota
	RotateLeft90
	RotateRight90
)

func (r Rotation) String() string {
	switch r {
	case RotateLeft90:
		return "left90"
	case RotateRight90:
		return "right90"
	}
	return "none"
}

// ParseRotation accepts "none", "left90" and "right90" and their spelled-out
// forms such as "Left 90°".
func ParseRotation(s string) (Rotation, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "", "°", "", "-", "", "_", "").Replace(v)
	switch v {
	case "", "none", "0":
		return RotateNone, nil
	case "left90", "left", "ccw":
		return RotateLeft90, nil
	case "right90", "right", "cw":
		return RotateRight90, nil
	}
	return RotateNone, domain.Validationf("unknown rotation %q", s)
}

// Rotate turns img by 90 degrees counter-clockwise (left) or clockwise
// (right), swapping width and height. Pixels are moved, never resampled.
func Rotate(img image.Image, r Rotation) image.Image {
	switch r {
	case RotateLeft90:
		return imaging.Rotate90(img)
	case RotateRight90:
		return imaging.Rotate270(img)
	}
	return img
}

// Normalizer turns raw uploads and prompts into a domain.SourceInput.
type Normalizer struct {
	MaxUploadBytes         int64
	ReencodeThresholdBytes int64
	MaxDimension           int
	Logger                 zerolog.Logger
}

// Image validates the upload size, decodes it, applies the rotation and
// re-encodes it to PNG. raw is never modified.
func (n *Normalizer) Image(raw []byte, filename string, declaredSize int64, rot Rotation) (*domain.SourceInput, error) {
	size := declaredSize
	if int64(len(raw)) > size {
		size = int64(len(raw))
	}
	if size == 0 {
		return nil, domain.Validationf("uploaded image is empty")
	}
	if n.MaxUploadBytes > 0 && size > n.MaxUploadBytes {
		return nil, domain.Validationf("file size %d bytes exceeds the %d bytes limit, try a smaller photo", size, n.MaxUploadBytes)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.Validationf("could not decode image: %v", err)
	}
	img = Rotate(img, rot)

	oversized := n.ReencodeThresholdBytes > 0 && size > n.ReencodeThresholdBytes
	if oversized && n.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > n.MaxDimension || b.Dy() > n.MaxDimension {
			img = resize.Thumbnail(uint(n.MaxDimension), uint(n.MaxDimension), img, resize.Lanczos3)
		}
	}

	encoded, err := EncodePNG(img, oversized)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	n.Logger.Debug().
		Str("format", format).
		Str("rotation", rot.String()).
		Int64("original_bytes", size).
		Int("encoded_bytes", len(encoded)).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Bool("reencoded", oversized).
		Msg("normalized upload")

	return &domain.SourceInput{
		Kind:         domain.SourceImage,
		Image:        img,
		Encoded:      encoded,
		Filename:     filename,
		DeclaredSize: size,
	}, nil
}

// Text validates a free-text prompt.
func (n *Normalizer) Text(text string) (*domain.SourceInput, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinPromptLength {
		return nil, domain.Validationf("prompt must be at least %d characters", MinPromptLength)
	}
	return &domain.SourceInput{Kind: domain.SourceText, Prompt: text}, nil
}
