// Package describe produces short natural-language descriptions of generated
// cartoons with a chat-completion model.
package describe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const defaultLanguage = "Korean"

// Describer writes a description of a generated image.
type Describer interface {
	Describe(ctx context.Context, ref string) (string, error)
}

// OpenAIDescriber asks a chat model for a brief description.
type OpenAIDescriber struct {
	client   *openai.Client
	model    string
	language string
	logger   zerolog.Logger
}

// NewOpenAIDescriber creates a describer answering in lang, a language name
// or tag.
func NewOpenAIDescriber(apiKey, baseURL, model, lang string, timeout time.Duration, logger zerolog.Logger) *OpenAIDescriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIDescriber{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: LanguageName(lang),
		logger:   logger,
	}
}

// LanguageName turns a BCP 47 tag such as "ko" or "pt-BR" into its English
// name. Anything else is treated as a name already and title-cased.
func LanguageName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultLanguage
	}
	if tag, err := language.Parse(s); err == nil {
		if name := display.English.Tags().Name(tag); name != "" {
			return name
		}
	}
	return cases.Title(language.English).String(s)
}

// Instruction is the system message sent for ref.
func Instruction(ref, lang string) string {
	return fmt.Sprintf("Describe this cartoon-style image (%s) briefly in %s.", ref, lang)
}

// Describe returns the content of the first choice. ref is a URL or a data
// URL of the result image.
func (d *OpenAIDescriber) Describe(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: Instruction(ref, d.language)},
		},
	})
	if err != nil {
		return "", providerError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.RemoteError(domain.ErrProvider, "describe: no choices returned", http.StatusOK, "")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	d.logger.Debug().
		Str("model", d.model).
		Int("tokens", resp.Usage.TotalTokens).
		Dur("elapsed", time.Since(start)).
		Msg("description generated")
	return content, nil
}

func providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.Error{Kind: domain.ErrProvider, Op: "describe", Status: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.Error{Kind: domain.ErrProvider, Op: "describe", Status: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	return domain.Wrap(domain.ErrProvider, "describe", err)
}
