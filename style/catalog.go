// Package style maps user-facing style and aspect-ratio labels to the tokens
// and prompt text sent to generation backends.
package style

import (
	"fmt"
	"os"
	"strings"

	"cartoonize/domain"

	"gopkg.in/yaml.v3"
)

// LabelSeparator joins the display half and the backend-token half of a label.
const LabelSeparator = " | "

// ParseLabel splits a compound label "display | token".
func ParseLabel(label string) (display, token string, err error) {
	parts := strings.SplitN(label, "|", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("style: label %q is not of the form 'display | token'", label)
	}
	display = strings.TrimSpace(parts[0])
	token = strings.TrimSpace(parts[1])
	if display == "" || token == "" {
		return "", "", fmt.Errorf("style: label %q has an empty half", label)
	}
	return display, token, nil
}

var defaultStyles = []domain.StyleOption{
	{Label: "지브리 | ghibli"},
	{Label: "디즈니 | disney"},
	{Label: "픽사 | pixar", Hint: "3D animation"},
	{Label: "뽀로로 | ppororo", Hint: "hand-drawn, pastel tones"},
	{Label: "마블 | marvel", Hint: "superhero"},
	{Label: "케이팝 | k-pop"},
	{Label: "피카소 | picaso"},
	{Label: "판타지 | fantastic"},
	{Label: "사이버 | cybertic"},
}

var pixelSizeLabels = []string{
	"정사각형 | 1024x1024",
	"가로형 | 1792x1024",
	"세로형 | 1024x1792",
}

var aspectRatioLabels = []string{
	"정사각형 | 1:1",
	"가로 | 4:3",
	"와이드 | 16:9",
	"세로 | 3:4",
	"세로 와이드 | 9:16",
}

// Catalog is the immutable list of selectable styles.
type Catalog struct {
	styles []domain.StyleOption
}

// DefaultCatalog returns the built-in style list.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultStyles)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog parses every label and rejects duplicate tokens.
func NewCatalog(entries []domain.StyleOption) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("style: catalog is empty")
	}
	seen := make(map[string]bool, len(entries))
	styles := make([]domain.StyleOption, 0, len(entries))
	for _, e := range entries {
		display, token, err := ParseLabel(e.Label)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(token)
		if seen[key] {
			return nil, fmt.Errorf("style: duplicate token %q", token)
		}
		seen[key] = true
		styles = append(styles, domain.StyleOption{
			Label:   e.Label,
			Display: display,
			Token:   token,
			Hint:    strings.TrimSpace(e.Hint),
		})
	}
	return &Catalog{styles: styles}, nil
}

type catalogFile struct {
	Styles []domain.StyleOption `yaml:"styles"`
}

// LoadCatalog reads a YAML style list:
//
//	styles:
//	  - label: "픽사 | pixar"
//	    hint: "3D animation"
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("style: failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("style: failed to decode catalog %s: %w", path, err)
	}
	return NewCatalog(f.Styles)
}

// Styles returns a copy of the catalog entries in display order.
func (c *Catalog) Styles() []domain.StyleOption {
	return append([]domain.StyleOption(nil), c.styles...)
}

// Style finds an entry by its full label, its token or its display name.
func (c *Catalog) Style(label string) (domain.StyleOption, error) {
	want := strings.TrimSpace(label)
	if want == "" {
		return domain.StyleOption{}, domain.Validationf("style is required")
	}
	if _, token, err := ParseLabel(want); err == nil {
		want = token
	}
	for _, s := range c.styles {
		if strings.EqualFold(s.Token, want) || s.Display == want {
			return s, nil
		}
	}
	return domain.StyleOption{}, domain.Validationf("unknown style %q", label)
}

// Ratios returns the ratio options valid for the backend kind.
func Ratios(kind domain.BackendKind) []domain.AspectRatioOption {
	var labels []string
	switch kind {
	case domain.TextToImage:
		labels = pixelSizeLabels
	case domain.ImageToImageRemote, domain.ImageToImageLocal:
		labels = aspectRatioLabels
	}
	out := make([]domain.AspectRatioOption, 0, len(labels))
	for _, l := range labels {
		display, token, err := ParseLabel(l)
		if err != nil {
			panic(err)
		}
		out = append(out, domain.AspectRatioOption{Label: l, Display: display, Token: token})
	}
	return out
}

// DefaultRatio returns the first ratio of the backend's set.
func DefaultRatio(kind domain.BackendKind) domain.AspectRatioOption {
	if r := Ratios(kind); len(r) > 0 {
		return r[0]
	}
	return domain.AspectRatioOption{}
}

// Ratio finds a ratio option by label or token within the backend's set only.
// An empty label selects the default.
func Ratio(kind domain.BackendKind, label string) (domain.AspectRatioOption, error) {
	want := strings.TrimSpace(label)
	if want == "" {
		return DefaultRatio(kind), nil
	}
	if _, token, err := ParseLabel(want); err == nil {
		want = token
	}
	for _, r := range Ratios(kind) {
		if r.Token == want || r.Display == want {
			return r, nil
		}
	}
	return domain.AspectRatioOption{}, domain.Validationf("ratio %q is not valid for %s backend", label, kind)
}
