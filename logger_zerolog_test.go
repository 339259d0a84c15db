package librealtime

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(LoggerConfig{Level: "debug", Output: &buf})

	logger.WithField("collection", "public.posts").Warnf("retrying in %s", "2s")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "retrying in 2s", line["message"])
	assert.Equal(t, "public.posts", line["collection"])
}

func TestZerologLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(LoggerConfig{Level: "warn", Output: &buf})

	logger.Debugln("hidden")
	logger.Info("hidden")
	logger.Errorln("shown", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown 1"`)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestNewLoggerFromConfig(t *testing.T) {
	var prod bytes.Buffer
	l := NewLoggerFromConfig(Config{Env: EnvProduction}, &prod)
	l.Infof("connected")
	l.Warnf("retrying")
	assert.NotContains(t, prod.String(), "connected")
	assert.Contains(t, prod.String(), "retrying")

	var dev bytes.Buffer
	l = NewLoggerFromConfig(Config{Env: EnvDevelopment}, &dev)
	l.Debugf("opening channel")
	assert.Contains(t, dev.String(), "opening channel")
	assert.False(t, strings.HasPrefix(dev.String(), "{"), "development logs are human readable")

	var override bytes.Buffer
	l = NewLoggerFromConfig(Config{Env: EnvProduction, LogLevel: "info"}, &override)
	l.Infof("connected")
	assert.Contains(t, override.String(), "connected")
}

func TestWrapZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := WrapZerolog(zerolog.New(&buf))

	logger.Error("boom")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zerolog.Disabled, parseLevel("disabled"))
}
