package style

import (
	"fmt"
	"strings"

	"cartoonize/domain"
)

// Params carries the user's selections for one run.
type Params struct {
	Kind     domain.BackendKind
	Style    string
	Ratio    string
	Text     string // free-text prompt, text-to-image only
	Strength float64
	Guidance float64

	// NegativePrompt is applied to image-to-image backends only.
	NegativePrompt string
}

// Resolution is the backend-facing translation of Params.
type Resolution struct {
	Style          domain.StyleOption
	Ratio          domain.AspectRatioOption
	Prompt         string
	NegativePrompt string
	Caption        string
	Strength       float64
	Guidance       float64
}

// Resolve maps labels to tokens and builds the prompt. It has no side effects.
func (c *Catalog) Resolve(p Params) (*Resolution, error) {
	s, err := c.Style(p.Style)
	if err != nil {
		return nil, err
	}
	r, err := Ratio(p.Kind, p.Ratio)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Style: s, Ratio: r}
	switch p.Kind {
	case domain.TextToImage:
		text := strings.TrimSpace(p.Text)
		res.Prompt = withHint(fmt.Sprintf("%s style of cartoonized image, %s", s.Token, text), s.Hint)
		res.Caption = fmt.Sprintf("[%s] %s", s.Display, text)
	case domain.ImageToImageRemote:
		res.Prompt = withHint(fmt.Sprintf("A cartoon version of this image, high quality, digital art, %s style", s.Token), s.Hint)
	case domain.ImageToImageLocal:
		res.Prompt = withHint(fmt.Sprintf("high quality, %s cartoon style", s.Token), s.Hint)
	default:
		return nil, domain.Validationf("unknown backend kind %s", p.Kind)
	}

	if p.Kind != domain.TextToImage {
		res.Caption = fmt.Sprintf("[%s] %s style of cartoon", s.Display, s.Token)
		res.NegativePrompt = p.NegativePrompt
		res.Strength = p.Strength
		res.Guidance = p.Guidance
	}
	return res, nil
}

func withHint(prompt, hint string) string {
	if hint == "" {
		return prompt
	}
	return prompt + ", " + hint
}
