package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core), LevelDebug)

	l.With(String("component", "test")).Warn("dropped",
		Uint16("entity_id", 7),
		Uint8("tag", 0x50),
		Duration("after", time.Second),
		Error(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "dropped", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "test", ctx["component"])
	assert.EqualValues(t, 7, ctx["entity_id"])
	assert.EqualValues(t, 0x50, ctx["tag"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestSetLevelPropagates(t *testing.T) {
	l, err := New(Config{Level: "info", Encoding: "json"})
	require.NoError(t, err)
	child := l.Named("child")
	l.SetLevel(LevelError)
	assert.Equal(t, LevelError, child.GetLevel())
}

func TestNilErrorFieldIsSkipped(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core), LevelDebug)

	require.NotPanics(t, func() { l.Info("closed", Error(nil)) })
	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["error"]
	assert.False(t, ok)

	assert.NotPanics(t, func() { NewNop().Warn("closed", Error(nil)) })
}
