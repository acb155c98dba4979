package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.EventLog.Backend)
	assert.Equal(t, 200, cfg.EventLog.DefaultLimit)
	assert.Equal(t, "file", cfg.Dataset.Backend)
	assert.Equal(t, "data.json", cfg.Dataset.Path)
	assert.Equal(t, 15, cfg.Notifications.ETAThresholdMinutes)
	assert.True(t, cfg.Notifications.OnReject)
	assert.True(t, cfg.Notifications.OnRedAccept)
	assert.True(t, cfg.Notifications.OnImminentArrival)
	assert.Equal(t, 3*time.Second, cfg.Notifications.PollInterval)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.False(t, cfg.NeedsPostgres())
}

func TestLoad_NotificationOverrides(t *testing.T) {
	t.Setenv("NOTIFY_ON_REJECT", "false")
	t.Setenv("NOTIFY_ETA_THRESHOLD_MIN", "10")
	t.Setenv("FEED_POLL_INTERVAL", "500ms")
	t.Setenv("ALLOWED_ORIGINS", "https://er.example.org, https://ops.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Notifications.OnReject)
	assert.Equal(t, 10, cfg.Notifications.ETAThresholdMinutes)
	assert.Equal(t, 500*time.Millisecond, cfg.Notifications.PollInterval)
	assert.Equal(t, []string{"https://er.example.org", "https://ops.example.org"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("EVENT_LOG_BACKEND", "sqlite")

	_, err := Load()
	assert.ErrorContains(t, err, "EVENT_LOG_BACKEND")
}

func TestNeedsPostgres(t *testing.T) {
	t.Setenv("DATASET_BACKEND", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.NeedsPostgres())
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=referraldesk sslmode=disable", cfg.Database.DatabaseDSN())
}
