package imageproc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
)

// Download formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// EncodePNG encodes img as PNG, trading speed for size when compact is set.
func EncodePNG(img image.Image, compact bool) ([]byte, error) {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if compact {
		enc.CompressionLevel = png.BestCompression
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imageproc: failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imageproc: failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeWebP encodes img as lossless WebP.
func EncodeWebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, fmt.Errorf("imageproc: failed to encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes PNG, JPEG or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imageproc: failed to decode image: %w", err)
	}
	return img, format, nil
}

// Encode encodes img in the named format and returns the bytes with their
// content type.
func Encode(img image.Image, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "", FormatPNG:
		data, err := EncodePNG(img, false)
		return data, "image/png", err
	case FormatJPEG, "jpg":
		data, err := EncodeJPEG(img, 90)
		return data, "image/jpeg", err
	case FormatWebP:
		data, err := EncodeWebP(img)
		return data, "image/webp", err
	}
	return nil, "", fmt.Errorf("imageproc: unsupported format %q", format)
}

// ThumbnailDataURL shrinks img to fit within maxSize and returns it as a PNG
// data URL.
func ThumbnailDataURL(img image.Image, maxSize uint) (string, error) {
	thumb := resize.Thumbnail(maxSize, maxSize, img, resize.Lanczos3)
	data, err := EncodePNG(thumb, true)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
