package describe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "Describe this cartoon-style image (https://cdn.example/cat.png) briefly in Korean.", body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" 자전거를 타는 고양이. "},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer server.Close()

	d := NewOpenAIDescriber("sk-test", server.URL+"/v1", "gpt-4o-mini", "", 5*time.Second, zerolog.Nop())
	text, err := d.Describe(context.Background(), "https://cdn.example/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "자전거를 타는 고양이.", text)
}

func TestDescribeProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	d := NewOpenAIDescriber("sk-bad", server.URL+"/v1", "", "English", 5*time.Second, zerolog.Nop())
	_, err := d.Describe(context.Background(), "https://cdn.example/cat.png")
	require.ErrorIs(t, err, domain.ErrProvider)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusUnauthorized, derr.Status)
	assert.Contains(t, derr.Body, "Incorrect API key")
}

func TestDescribeNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c2","choices":[]}`))
	}))
	defer server.Close()

	d := NewOpenAIDescriber("sk-test", server.URL+"/v1", "", "", 5*time.Second, zerolog.Nop())
	_, err := d.Describe(context.Background(), "data:image/png;base64,AAAA")
	require.ErrorIs(t, err, domain.ErrProvider)
}

func TestInstruction(t *testing.T) {
	assert.Equal(t, "Describe this cartoon-style image (ref) briefly in English.", Instruction("ref", "English"))
}

func TestLanguageName(t *testing.T) {
	for in, want := range map[string]string{
		"":        "Korean",
		"ko":      "Korean",
		"ja":      "Japanese",
		"korean":  "Korean",
		"English": "English",
	} {
		assert.Equal(t, want, LanguageName(in), in)
	}
}
