package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, time.Minute, cfg.SweepInterval())
	assert.Equal(t, 200, cfg.SweepBatchSize)
	assert.Equal(t, time.Duration(0), cfg.AgentPresence())
	assert.InDelta(t, 0.25, cfg.ScoreWeightWorkload, 1e-9)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("PORT=9000\nSWEEP_INTERVAL_SECONDS=15\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("AGENT_PRESENCE_SECONDS", "300")

	cfg, err := load(file)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval())
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.AgentPresence())
}
