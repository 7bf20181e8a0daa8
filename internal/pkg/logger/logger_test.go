package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput(&buf, "debug", "json")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("session_id", "s-1").Info("session opened")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session opened", entry["msg"])
	assert.Equal(t, "s-1", entry["session_id"])
}

func TestNew_Fallbacks(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput(&buf, "chatty", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}
