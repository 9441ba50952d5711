package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogCapture(t *testing.T) {
	logger, logs := NewLogger(t)

	child := logger.With(slog.String("component", "optimizer"))
	child.Info("search started", slog.Int("restarts", 4))
	child.Warn("restart failed", slog.Int("restart", 2))
	logger.Debug("detail")

	assert.Len(t, logs.Records(), 3)
	assert.Equal(t, 1, logs.Count(slog.LevelWarn))

	r := logs.RequireLogged(t, slog.LevelWarn, "restart failed")
	assert.Equal(t, "optimizer", r.Attrs["component"])
	assert.EqualValues(t, 2, r.Attrs["restart"])

	_, ok := logs.Find(slog.LevelError, "restart failed")
	assert.False(t, ok)
}
