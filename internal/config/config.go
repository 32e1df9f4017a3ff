// Package config loads and validates application configuration from YAML
// files, an optional .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // scheduler.timezone must resolve in minimal images

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Telegram      TelegramConfig      `yaml:"telegram"`
	Backend       BackendConfig       `yaml:"backend"`
	Session       SessionConfig       `yaml:"session"`
	Settings      SettingsConfig      `yaml:"settings"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TelegramConfig describes the chat transport.
type TelegramConfig struct {
	BotToken         string        `yaml:"bot_token"`
	BaseURL          string        `yaml:"base_url"`
	ChannelID        string        `yaml:"channel_id"`
	AdminChatID      int64         `yaml:"admin_chat_id"`
	AllowedChatIDs   []int64       `yaml:"allowed_chat_ids"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxDownloadBytes int64         `yaml:"max_download_bytes"`
}

// BackendConfig describes the content backend.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	RecentLimit    int           `yaml:"recent_limit"`
}

// SessionConfig describes session persistence.
type SessionConfig struct {
	Driver  string        `yaml:"driver"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SettingsConfig describes where AI settings are kept.
type SettingsConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	DSN             string        `yaml:"dsn"`
	MaxConns        int           `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SchedulerConfig describes the unattended jobs.
type SchedulerConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Timezone          string   `yaml:"timezone"`
	DailyPick         string   `yaml:"daily_pick"`
	AIGenerationTimes []string `yaml:"ai_generation_times"`
}

// DispatchConfig describes the per-chat event queues.
type DispatchConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	QueueSize      int           `yaml:"queue_size"`
	WorkerIdle     time.Duration `yaml:"worker_idle"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// ServerConfig describes the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// LogFileConfig describes an optional rotating log file.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			BaseURL:          "https://api.telegram.org",
			PollTimeout:      30 * time.Second,
			RequestTimeout:   60 * time.Second,
			MaxDownloadBytes: 20 * 1024 * 1024,
		},
		Backend: BackendConfig{
			Timeout:        30 * time.Second,
			PublishTimeout: 60 * time.Second,
			RecentLimit:    5,
		},
		Session: SessionConfig{
			Driver:  "memory",
			IdleTTL: 24 * time.Hour,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Settings: SettingsConfig{
			Driver:          "file",
			Path:            "data/ai_settings.json",
			MaxConns:        4,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			Timezone:          "UTC",
			DailyPick:         "0 10 * * *",
			AIGenerationTimes: []string{"09:00", "18:00"},
		},
		Dispatch: DispatchConfig{
			MaxConcurrency: 8,
			QueueSize:      16,
			WorkerIdle:     10 * time.Minute,
			HandlerTimeout: 3 * time.Minute,
		},
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			LogFile: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// LoadDotEnv loads variables from a .env file into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

// Load reads an optional YAML config file, applies environment variable
// overrides, and validates required fields. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.BotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}
	if c.Backend.Token == "" {
		errs = append(errs, "BOT_API_TOKEN is required")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "API_BASE is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.driver %q is not one of memory, redis", c.Session.Driver))
	}
	switch c.Settings.Driver {
	case "file":
		if c.Settings.Path == "" {
			errs = append(errs, "settings.path is required for the file driver")
		}
	case "postgres":
		if c.Settings.DSN == "" {
			errs = append(errs, "settings.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("settings.driver %q is not one of file, postgres", c.Settings.Driver))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.timezone: %v", err))
	}
	for _, hm := range c.Scheduler.AIGenerationTimes {
		if _, _, err := ParseClock(hm); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.ai_generation_times: %v", err))
		}
	}
	if c.Dispatch.MaxConcurrency < 1 {
		errs = append(errs, "dispatch.max_concurrency must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// applyEnvOverrides reads the bot's environment variables and overrides
// config values. The credential names match the original deployment.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHANNEL_ID"); v != "" {
		cfg.Telegram.ChannelID = v
	}
	if v := os.Getenv("BOT_API_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("API_BASE"); v != "" {
		cfg.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("ADMIN_CHAT_ID %q: %w", v, err)
		}
		cfg.Telegram.AdminChatID = id
	}
	if v := os.Getenv("ALLOWED_CHAT_IDS"); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("ALLOWED_CHAT_IDS: %w", err)
		}
		cfg.Telegram.AllowedChatIDs = ids
	}
	if v := os.Getenv("QUILL_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("QUILL_SESSION_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := os.Getenv("QUILL_REDIS_ADDR"); v != "" {
		cfg.Session.Redis.Addr = v
	}
	if v := os.Getenv("QUILL_SETTINGS_DSN"); v != "" {
		cfg.Settings.Driver = "postgres"
		cfg.Settings.DSN = v
	}
	if v := os.Getenv("QUILL_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUILL_SERVER_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
