package logger_test

import (
	"bytes"
	"testing"

	"ghibli-go/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestInitWritesJSON(t *testing.T) {
	buf := new(bytes.Buffer)
	logger.Init("debug", logger.WithWriter(buf))

	logger.L().Infow("test message", "scope", "convert")

	assert.Contains(t, buf.String(), `"message":"test message"`)
	assert.Contains(t, buf.String(), `"scope":"convert"`)
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}

func TestInitLevelFilters(t *testing.T) {
	buf := new(bytes.Buffer)
	logger.Init("warn", logger.WithWriter(buf))

	logger.L().Info("hidden")
	logger.L().Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	buf := new(bytes.Buffer)
	logger.Init("loud", logger.WithWriter(buf))

	logger.L().Debug("debug line")
	logger.L().Info("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}
