package style

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cartoonize/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	display, token, err := ParseLabel("A | B")
	require.NoError(t, err)
	assert.Equal(t, "A", display)
	assert.Equal(t, "B", token)

	for _, bad := range []string{"ghibli", " | ghibli", "지브리 | ", ""} {
		_, _, err := ParseLabel(bad)
		assert.Error(t, err, bad)
	}
}

func TestEveryLabelSplits(t *testing.T) {
	var labels []string
	for _, s := range DefaultCatalog().Styles() {
		labels = append(labels, s.Label)
	}
	for _, kind := range domain.BackendKinds() {
		for _, r := range Ratios(kind) {
			labels = append(labels, r.Label)
		}
	}

	for _, label := range labels {
		display, token, err := ParseLabel(label)
		require.NoError(t, err, label)
		assert.Equal(t, display+LabelSeparator+token, label)
	}
}

func TestCatalogLookup(t *testing.T) {
	c := DefaultCatalog()

	for _, label := range []string{"지브리 | ghibli", "ghibli", "GHIBLI", "지브리"} {
		s, err := c.Style(label)
		require.NoError(t, err, label)
		assert.Equal(t, "ghibli", s.Token)
		assert.Equal(t, "지브리", s.Display)
	}

	_, err := c.Style("van gogh")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRatioSetsNeverLeak(t *testing.T) {
	_, err := Ratio(domain.TextToImage, "16:9")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = Ratio(domain.ImageToImageRemote, "1792x1024")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = Ratio(domain.ImageToImageLocal, "가로형 | 1792x1024")
	require.ErrorIs(t, err, domain.ErrValidation)

	for _, kind := range domain.BackendKinds() {
		for _, r := range Ratios(kind) {
			assert.True(t, kind.AcceptsRatioToken(r.Token), "%s %s", kind, r.Token)
		}
	}
	for _, r := range Ratios(domain.TextToImage) {
		assert.False(t, domain.ImageToImageRemote.AcceptsRatioToken(r.Token))
	}
	for _, r := range Ratios(domain.ImageToImageRemote) {
		assert.False(t, domain.TextToImage.AcceptsRatioToken(r.Token))
	}

	r, err := Ratio(domain.TextToImage, "")
	require.NoError(t, err)
	assert.Equal(t, "1024x1024", r.Token)
}

func TestResolveTextToImage(t *testing.T) {
	res, err := DefaultCatalog().Resolve(Params{
		Kind:           domain.TextToImage,
		Style:          "지브리 | ghibli",
		Ratio:          "1024x1024",
		Text:           "  A cyberpunk city with neon lights ",
		Strength:       0.5,
		NegativePrompt: "watermark",
	})
	require.NoError(t, err)

	assert.Equal(t, "ghibli style of cartoonized image, A cyberpunk city with neon lights", res.Prompt)
	assert.Equal(t, "[지브리] A cyberpunk city with neon lights", res.Caption)
	assert.Equal(t, "1024x1024", res.Ratio.Token)
	assert.Empty(t, res.NegativePrompt)
	assert.Zero(t, res.Strength)
}

func TestResolveImageToImage(t *testing.T) {
	c := DefaultCatalog()

	res, err := c.Resolve(Params{
		Kind:           domain.ImageToImageRemote,
		Style:          "픽사 | pixar",
		Ratio:          "와이드 | 16:9",
		Strength:       0.75,
		Guidance:       7.5,
		NegativePrompt: "watermark, extra limbs",
	})
	require.NoError(t, err)
	assert.Equal(t, "A cartoon version of this image, high quality, digital art, pixar style, 3D animation", res.Prompt)
	assert.Equal(t, "watermark, extra limbs", res.NegativePrompt)
	assert.Equal(t, "16:9", res.Ratio.Token)
	assert.Equal(t, "[픽사] pixar style of cartoon", res.Caption)
	assert.InDelta(t, 0.75, res.Strength, 1e-9)

	res, err = c.Resolve(Params{Kind: domain.ImageToImageLocal, Style: "marvel", Strength: 0.5, Guidance: 10})
	require.NoError(t, err)
	assert.Equal(t, "high quality, marvel cartoon style, superhero", res.Prompt)
	assert.Equal(t, "1:1", res.Ratio.Token)
}

func TestResolveNegativePromptIsConstantAcrossStyles(t *testing.T) {
	c := DefaultCatalog()
	for _, s := range c.Styles() {
		res, err := c.Resolve(Params{Kind: domain.ImageToImageRemote, Style: s.Label, NegativePrompt: "blurry"})
		require.NoError(t, err)
		assert.Equal(t, "blurry", res.NegativePrompt)
		assert.True(t, strings.Contains(res.Prompt, s.Token))
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.yaml")
	doc := "styles:\n  - label: \"고흐 | van gogh\"\n    hint: \"thick brush strokes\"\n  - label: \"지브리 | ghibli\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Styles(), 2)

	s, err := c.Style("van gogh")
	require.NoError(t, err)
	assert.Equal(t, "고흐", s.Display)
	assert.Equal(t, "thick brush strokes", s.Hint)
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]domain.StyleOption{{Label: "a | x"}, {Label: "b | X"}})
	require.Error(t, err)

	_, err = NewCatalog(nil)
	require.Error(t, err)
}
