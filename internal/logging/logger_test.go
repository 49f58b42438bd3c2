package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		require.NoError(t, SetFormat("text"))
		require.NoError(t, SetLogLevel("info"))
	})
}

func TestSetLogLevel_SetsBothLoggers(t *testing.T) {
	reset(t)
	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
	assert.Equal(t, logrus.DebugLevel, GetSchedulerLogger().GetLevel())

	assert.Error(t, SetLogLevel("loud"))
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
}

func TestSetFormat_JSONKeepsSchedulerMessageKey(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, SetFormat("json"))

	GetSchedulerLogger().WithField("core", 1).Info("Admitted tasks")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Admitted tasks", entry["scheduler_msg"])
	assert.Equal(t, float64(1), entry["core"])

	buf.Reset()
	GetLogger().Info("Starting simulation")
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Starting simulation", entry["msg"])
}

func TestSetFormat_RejectsUnknown(t *testing.T) {
	reset(t)
	assert.Error(t, SetFormat("xml"))
}
