package imageproc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"cartoonize/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newNormalizer() *Normalizer {
	return &Normalizer{
		MaxUploadBytes:         3 << 20,
		ReencodeThresholdBytes: 2 << 20,
		MaxDimension:           1920,
		Logger:                 zerolog.Nop(),
	}
}

func TestImageRejectsOversizedUpload(t *testing.T) {
	n := newNormalizer()

	// The declared size alone triggers the ceiling before any decoding.
	_, err := n.Image([]byte("not an image at all"), "big.jpg", 4<<20, RotateNone)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "exceeds")

	_, err = n.Image(make([]byte, (3<<20)+1), "big.jpg", 0, RotateNone)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestImageRejectsGarbage(t *testing.T) {
	_, err := newNormalizer().Image([]byte("hello"), "x.png", 5, RotateNone)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = newNormalizer().Image(nil, "x.png", 0, RotateNone)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestImageRotationAndEncoding(t *testing.T) {
	raw := pngBytes(t, testImage(40, 20))
	orig := append([]byte(nil), raw...)

	src, err := newNormalizer().Image(raw, "photo.png", int64(len(raw)), RotateLeft90)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceImage, src.Kind)
	assert.Equal(t, 20, src.Image.Bounds().Dx())
	assert.Equal(t, 40, src.Image.Bounds().Dy())
	assert.Equal(t, orig, raw, "upload bytes must not be mutated")

	decoded, format, err := Decode(src.Encoded)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, src.Image.Bounds().Size(), decoded.Bounds().Size())
}

func TestRotateInversePairRestoresDimensions(t *testing.T) {
	img := testImage(30, 12)

	left := Rotate(img, RotateLeft90)
	assert.Equal(t, image.Pt(12, 30), left.Bounds().Size())

	back := Rotate(left, RotateRight90)
	assert.Equal(t, img.Bounds().Size(), back.Bounds().Size())

	// Lossless: pixels return to their original place.
	assert.Equal(t, img.NRGBAAt(3, 5), back.(*image.NRGBA).NRGBAAt(3, 5))

	assert.Same(t, img, Rotate(img, RotateNone))
}

func TestRotateDirection(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	red := color.NRGBA{R: 255, A: 255}
	img.Set(1, 0, red) // top-right

	// Counter-clockwise moves the top-right pixel to the top-left.
	left := Rotate(img, RotateLeft90).(*image.NRGBA)
	assert.Equal(t, red, left.NRGBAAt(0, 0))

	// Clockwise moves it to the bottom of the 1x2 result.
	right := Rotate(img, RotateRight90).(*image.NRGBA)
	assert.Equal(t, red, right.NRGBAAt(0, 1))
}

func TestImageReencodesAboveThreshold(t *testing.T) {
	raw := pngBytes(t, testImage(64, 32))
	n := newNormalizer()
	n.ReencodeThresholdBytes = int64(len(raw)) - 1
	n.MaxDimension = 16

	src, err := n.Image(raw, "photo.png", int64(len(raw)), RotateNone)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(16, 8), src.Image.Bounds().Size())

	n.ReencodeThresholdBytes = int64(len(raw)) + 1
	src, err = n.Image(raw, "photo.png", int64(len(raw)), RotateNone)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 32), src.Image.Bounds().Size())
}

func TestText(t *testing.T) {
	n := newNormalizer()

	_, err := n.Text("  too short ")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = n.Text("사이버펑크 도시 풍경")
	require.NoError(t, err, "ten runes are enough even when multi-byte")

	src, err := n.Text("  A cyberpunk city with neon lights\n")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceText, src.Kind)
	assert.Equal(t, "A cyberpunk city with neon lights", src.Prompt)
}

func TestParseRotation(t *testing.T) {
	cases := map[string]Rotation{
		"":          RotateNone,
		"None":      RotateNone,
		"Left 90":   RotateLeft90,
		"Left 90°":  RotateLeft90,
		"left90":    RotateLeft90,
		"Right 90°": RotateRight90,
		"right":     RotateRight90,
	}
	for in, want := range cases {
		got, err := ParseRotation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRotation("upside down")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestEncodeFormats(t *testing.T) {
	img := testImage(8, 8)
	for format, contentType := range map[string]string{"png": "image/png", "jpeg": "image/jpeg", "webp": "image/webp"} {
		data, ct, err := Encode(img, format)
		require.NoError(t, err, format)
		assert.Equal(t, contentType, ct)

		decoded, _, err := Decode(data)
		require.NoError(t, err, format)
		assert.Equal(t, img.Bounds().Size(), decoded.Bounds().Size())
	}

	_, _, err := Encode(img, "gif")
	require.Error(t, err)
}

func TestThumbnailDataURL(t *testing.T) {
	url, err := ThumbnailDataURL(testImage(600, 300), 256)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	thumb, _, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 256, thumb.Bounds().Dx())
	assert.Equal(t, 128, thumb.Bounds().Dy())
}
