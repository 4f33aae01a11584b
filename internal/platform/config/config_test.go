package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REMOTE_URL", "https://remote.example.com")
	t.Setenv("REMOTE_API_KEY", "test-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "127.0.0.1:7381", cfg.Listen)
	assert.Equal(t, "fieldsync.db", cfg.StorePath)
	assert.Equal(t, "record-images", cfg.AttachmentBucket)
	assert.Equal(t, 6*time.Second, cfg.ProfileFetchTimeout)
	assert.Equal(t, 1, cfg.ProfileFetchRetries)
	assert.Equal(t, time.Second, cfg.ProfileFetchBackoff)
	assert.Equal(t, 5*time.Second, cfg.InitWatchdog)
	assert.Equal(t, 4*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.SignOutTimeout)
	assert.Equal(t, time.Duration(0), cfg.ProfileMaxStale)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("HEARTBEAT_INTERVAL", "30s")
	t.Setenv("PROFILE_FETCH_RETRIES", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.ProfileFetchRetries)
}

func TestLoad_RequiresRemoteURL(t *testing.T) {
	t.Setenv("REMOTE_URL", "")
	t.Setenv("REMOTE_API_KEY", "test-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_URL")
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("REMOTE_URL", "https://remote.example.com")
	t.Setenv("REMOTE_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_API_KEY")
}

func TestValidate_RejectsBadDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("HEARTBEAT_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEARTBEAT_INTERVAL")
}

func TestValidate_RejectsNegativeRetries(t *testing.T) {
	setRequired(t)
	t.Setenv("PROFILE_FETCH_RETRIES", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROFILE_FETCH_RETRIES")
}
