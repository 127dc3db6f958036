package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"cartoonize/config"
	"cartoonize/domain"
	"cartoonize/imageproc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptCredentials(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("r8-typed\n\ncf-typed\n"))
	var out bytes.Buffer

	creds := promptCredentials(in, &out, config.Credentials{OpenAIKey: "sk-env"},
		[]string{"REPLICATE_API_TOKEN", "CLOUDFLARE_ACCOUNT_ID", "CLOUDFLARE_API_TOKEN"})

	assert.Equal(t, "sk-env", creds.OpenAIKey)
	assert.Equal(t, "r8-typed", creds.ReplicateToken)
	assert.Empty(t, creds.CloudflareAccountID)
	assert.Equal(t, "cf-typed", creds.CloudflareAPIToken)
	assert.Contains(t, out.String(), "Enter REPLICATE_API_TOKEN: ")
	assert.NotContains(t, out.String(), "r8-typed")
}

func TestOutputFormat(t *testing.T) {
	assert.Equal(t, imageproc.FormatJPEG, outputFormat("out/cat.JPG", ""))
	assert.Equal(t, imageproc.FormatWebP, outputFormat("cat.webp", ""))
	assert.Equal(t, imageproc.FormatPNG, outputFormat("cat", ""))
	assert.Equal(t, imageproc.FormatWebP, outputFormat("cat.png", "WEBP"))
}

func TestRunOptionsAction(t *testing.T) {
	action, err := runOptions{backend: "prompt", prompt: "a cat riding a bicycle", style: "ghibli", rotation: "none"}.action()
	require.NoError(t, err)
	assert.Equal(t, domain.TextToImage, action.Backend)
	assert.Empty(t, action.Upload)

	_, err = runOptions{backend: "local", style: "ghibli", rotation: "none"}.action()
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = runOptions{backend: "prompt", rotation: "sideways"}.action()
	require.ErrorIs(t, err, domain.ErrValidation)
}
