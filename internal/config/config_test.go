package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchedulerDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_DSN", "postgres://localhost/crm")

	cfg := LoadScheduler()
	assert.Equal(t, "postgres://localhost/crm", cfg.DSN)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, 10*time.Minute, cfg.StateCleanupPeriod)
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.False(t, cfg.SMTPConfig.Enabled())
}

func TestLoadSchedulerRejectsShortLease(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_DSN", "postgres://localhost/crm")
	t.Setenv("SCHEDULER_LEASE_TTL", "45s")
	t.Setenv("SCHEDULER_SEND_TIMEOUT", "30s")

	assert.Panics(t, func() { LoadScheduler() })
}

func TestLoadAPIRequiresSecret(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_DSN", "postgres://localhost/crm")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	var cfg APIConfig
	require.Error(t, Load(&cfg))
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("WEBHOOK_SECRET=from-file\nPORT=9999\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("SQS_EVENTS_QUEUE_URL", "http://localhost:4566/000000000000/events")
	t.Setenv("PORT", "7000")
	t.Setenv("WEBHOOK_SECRET", "")
	os.Unsetenv("WEBHOOK_SECRET")

	cfg := LoadWebhook()
	assert.Equal(t, "from-file", cfg.Secret)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
}

func TestSchedulerValidate(t *testing.T) {
	cfg := SchedulerConfig{Interval: time.Minute, MaxAttempts: 3, LeaseTTL: time.Minute, SendTimeout: 10 * time.Second}
	require.NoError(t, cfg.Validate())

	cfg.MaxAttempts = 0
	require.Error(t, cfg.Validate())
}
