package domain

import (
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	err := RemoteError(ErrUpload, "cloudflare", 403, `{"success":false}`)
	assert.True(t, errors.Is(err, ErrUpload))
	assert.False(t, errors.Is(err, ErrGeneration))
	assert.Equal(t, `cloudflare: upload failed (status 403), body: {"success":false}`, err.Error())

	wrapped := fmt.Errorf("run: %w", err)
	assert.Equal(t, ErrUpload, KindOf(wrapped))

	cause := errors.New("dial tcp: connection refused")
	gen := Wrap(ErrGeneration, "replicate", cause)
	assert.ErrorIs(t, gen, ErrGeneration)
	assert.ErrorIs(t, gen, cause)

	assert.Same(t, err, Wrap(ErrGeneration, "other", err))
	assert.Nil(t, Wrap(ErrGeneration, "noop", nil))
	assert.Nil(t, KindOf(cause))

	missing := CredentialMissing("OPENAI_API_KEY")
	assert.ErrorIs(t, missing, ErrCredentialMissing)
	assert.Contains(t, missing.Error(), "OPENAI_API_KEY")
}

func TestParseBackendKind(t *testing.T) {
	for in, want := range map[string]BackendKind{
		"prompt":                TextToImage,
		"Text-To-Image":         TextToImage,
		"remote":                ImageToImageRemote,
		"image-to-image-remote": ImageToImageRemote,
		" local ":               ImageToImageLocal,
	} {
		got, err := ParseBackendKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackendKind("video")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRatioTokenSetsAreDisjoint(t *testing.T) {
	for _, token := range PixelSizeTokens {
		assert.True(t, TextToImage.AcceptsRatioToken(token))
		assert.False(t, ImageToImageRemote.AcceptsRatioToken(token))
		assert.False(t, ImageToImageLocal.AcceptsRatioToken(token))
	}
	for _, token := range AspectRatioTokens {
		assert.False(t, TextToImage.AcceptsRatioToken(token))
		assert.True(t, ImageToImageRemote.AcceptsRatioToken(token))
	}
}

func validImageRequest() GenerationRequest {
	return GenerationRequest{
		Kind:          ImageToImageRemote,
		Source:        &SourceInput{Kind: SourceImage},
		Style:         StyleOption{Token: "ghibli"},
		Ratio:         AspectRatioOption{Token: "4:3"},
		Prompt:        "A cartoon version of this image",
		Strength:      0.75,
		GuidanceScale: 7.5,
		OutputCount:   1,
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	req := validImageRequest()
	require.NoError(t, req.Validate())

	tests := []struct {
		name   string
		mutate func(*GenerationRequest)
	}{
		{"unknown kind", func(r *GenerationRequest) { r.Kind = BackendUnknown }},
		{"no source", func(r *GenerationRequest) { r.Source = nil }},
		{"text source", func(r *GenerationRequest) { r.Source = &SourceInput{Kind: SourceText} }},
		{"pixel size", func(r *GenerationRequest) { r.Ratio.Token = "1792x1024" }},
		{"no style", func(r *GenerationRequest) { r.Style.Token = "" }},
		{"blank prompt", func(r *GenerationRequest) { r.Prompt = "  " }},
		{"strength high", func(r *GenerationRequest) { r.Strength = 0.91 }},
		{"guidance low", func(r *GenerationRequest) { r.GuidanceScale = 0.5 }},
		{"many outputs", func(r *GenerationRequest) { r.OutputCount = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validImageRequest()
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), ErrValidation)
		})
	}

	t2i := GenerationRequest{
		Kind:        TextToImage,
		Source:      &SourceInput{Kind: SourceText, Prompt: "a cat riding a bicycle"},
		Style:       StyleOption{Token: "ghibli"},
		Ratio:       AspectRatioOption{Token: "1024x1024"},
		Prompt:      "ghibli style of cartoonized image, a cat riding a bicycle",
		OutputCount: 1,
	}
	assert.NoError(t, t2i.Validate(), "strength and guidance are ignored for text-to-image")
}

func TestGenerationResultRef(t *testing.T) {
	remote := &GenerationResult{URL: "https://cdn.example/1.png"}
	assert.True(t, remote.IsRemote())
	assert.Equal(t, "https://cdn.example/1.png", remote.Ref())

	local := &GenerationResult{Image: image.NewNRGBA(image.Rect(0, 0, 512, 680))}
	assert.False(t, local.IsRemote())
	assert.Equal(t, "in-memory image 512x680", local.Ref())
}
