package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNew_Level(t *testing.T) {
	log := New("error", "json")
	assert.Equal(t, zerolog.ErrorLevel, log.GetLevel())
}

func TestNewWithWriter_JSON(t *testing.T) {
	// GIVEN: a logger writing to a buffer
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	// WHEN: an event with a field is logged
	log.Info().Str("account", "safe").Msg("mutation applied")

	// THEN: one JSON line carries the message and the field
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "mutation applied", line["message"])
	assert.Equal(t, "safe", line["account"])
	assert.Equal(t, "info", line["level"])
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	assert.Contains(t, buf.String(), "test")
}

func TestFromContext_DefaultIsDisabled(t *testing.T) {
	log := FromContext(context.Background())
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}
