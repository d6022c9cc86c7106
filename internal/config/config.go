package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"flexible-todos/internal/logging"
	"flexible-todos/internal/schedule"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken string
	DatabaseURL   string
	// CheckInterval is how often pending reminders are swept.
	CheckInterval time.Duration
	Location      *time.Location
	// Defaults for users who never touched /settings.
	DefaultNotificationTime schedule.TimeOfDay
	DefaultPeriodScale      int
	// SendRatePerSec caps Telegram calls of the reminder sweep; 0 disables the cap.
	SendRatePerSec int
	Log            logging.Config
}

// Load reads configuration from environment variables, optionally layered on
// top of the YAML file named by CONFIG_FILE, with sane defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("telegram_token", "")
	v.SetDefault("database_url", "flexible_todos.db")
	v.SetDefault("check_interval", "1m")
	v.SetDefault("timezone", "Local")
	v.SetDefault("default_notification_time", schedule.DefaultNotificationTime.String())
	v.SetDefault("default_period_scale", schedule.MinPeriodScale)
	v.SetDefault("send_rate_per_sec", 20)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		TelegramToken:      strings.TrimSpace(v.GetString("telegram_token")),
		DatabaseURL:        strings.TrimSpace(v.GetString("database_url")),
		DefaultPeriodScale: v.GetInt("default_period_scale"),
		SendRatePerSec:     v.GetInt("send_rate_per_sec"),
		Log: logging.Config{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	interval, err := time.ParseDuration(strings.TrimSpace(v.GetString("check_interval")))
	if err != nil || interval <= 0 {
		return cfg, fmt.Errorf("CHECK_INTERVAL must be a positive duration, got %q", v.GetString("check_interval"))
	}
	cfg.CheckInterval = interval

	loc, err := time.LoadLocation(strings.TrimSpace(v.GetString("timezone")))
	if err != nil {
		return cfg, fmt.Errorf("load timezone: %w", err)
	}
	cfg.Location = loc

	tod, err := schedule.ParseTimeOfDay(v.GetString("default_notification_time"))
	if err != nil {
		return cfg, fmt.Errorf("DEFAULT_NOTIFICATION_TIME: %w", err)
	}
	cfg.DefaultNotificationTime = tod

	if cfg.DefaultPeriodScale < schedule.MinPeriodScale || cfg.DefaultPeriodScale > schedule.MaxPeriodScale {
		return cfg, fmt.Errorf("DEFAULT_PERIOD_SCALE must be between %d and %d", schedule.MinPeriodScale, schedule.MaxPeriodScale)
	}
	if cfg.SendRatePerSec < 0 {
		return cfg, fmt.Errorf("SEND_RATE_PER_SEC must not be negative, got %d", cfg.SendRatePerSec)
	}

	return cfg, nil
}

// RequireToken fails when the bot token is missing; the import command runs without one.
func (c Config) RequireToken() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}

// Defaults is the settings snapshot used before a user changes anything.
func (c Config) Defaults() schedule.Settings {
	return schedule.Settings{
		NotificationTime: c.DefaultNotificationTime,
		PeriodScale:      c.DefaultPeriodScale,
	}
}
