package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

func TestLogger_Log_WritesContextAndErrorFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := log.New(log.LevelDebug, log.WithOutput(buf))

	ctx := logger.WithContext(context.Background(), log.Fields{"topic": "events"})
	logger.WithError(errors.New("boom")).WithField("streamID", "s-1").Warn(ctx, "stream failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream failed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "events", entry["topic"])
	assert.Equal(t, "s-1", entry["streamID"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_Log_SkipsBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := log.New(log.LevelWarn, log.WithOutput(buf))

	logger.Info(context.Background(), "ignored")
	logger.Log(context.Background(), log.LevelDisabled, "ignored too")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.LevelDebug, log.ParseLevel("DEBUG"))
	assert.Equal(t, log.LevelDisabled, log.ParseLevel("disabled"))
	assert.Equal(t, log.LevelInfo, log.ParseLevel("verbose"))
}
