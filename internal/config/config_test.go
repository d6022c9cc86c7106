package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexible-todos/internal/schedule"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TELEGRAM_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "flexible_todos.db", cfg.DatabaseURL)
	assert.Equal(t, time.Minute, cfg.CheckInterval)
	assert.Equal(t, schedule.TimeOfDay{Hour: 10}, cfg.DefaultNotificationTime)
	assert.Equal(t, 1, cfg.DefaultPeriodScale)
	assert.Equal(t, 20, cfg.SendRatePerSec)
	assert.Error(t, cfg.RequireToken())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TELEGRAM_TOKEN", " abc ")
	t.Setenv("DATABASE_URL", "data/todos.db")
	t.Setenv("CHECK_INTERVAL", "30s")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("DEFAULT_NOTIFICATION_TIME", "08:15")
	t.Setenv("DEFAULT_PERIOD_SCALE", "3")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.RequireToken())
	assert.Equal(t, "abc", cfg.TelegramToken)
	assert.Equal(t, "data/todos.db", cfg.DatabaseURL)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, schedule.Settings{NotificationTime: schedule.TimeOfDay{Hour: 8, Minute: 15}, PeriodScale: 3}, cfg.Defaults())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: file.db\ncheck_interval: 5m\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file.db", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.CheckInterval)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"CHECK_INTERVAL":            "soon",
		"DEFAULT_PERIOD_SCALE":      "9",
		"DEFAULT_NOTIFICATION_TIME": "25:00",
		"TIMEZONE":                  "Mars/Olympus",
		"SEND_RATE_PER_SEC":         "-1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadUnlimitedSendRate(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SEND_RATE_PER_SEC", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.SendRatePerSec)
}
