package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProductionIsJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New("production", &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Str("provider", "openai").Msg("calling provider")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"provider":"openai"`)
	assert.Contains(t, out, `"app":"cartoonize"`)
}

func TestNewDevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New("development", &buf)
	logger.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}
