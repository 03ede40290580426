package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, 20, cfg.Scheduler.DefaultBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.DefaultMessageDelay)
	assert.Equal(t, 3*time.Minute, cfg.Session.AuthTimeout)
	assert.Equal(t, uint64(5), cfg.Session.ReconnectMaxTries)
	assert.Equal(t, "leadflow_notify", cfg.NATS.NotifyStream)
	assert.Equal(t, "v1.notify", cfg.NATS.NotifySubject)
	assert.Equal(t, 10, cfg.WorkerPools.Scheduler.PoolSize)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://env-host/db")
	t.Setenv("NATS_URL", "nats://env-host:4222")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/db", cfg.Database.PostgresDSN)
	assert.Equal(t, "nats://env-host:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.LogLevel)
}
