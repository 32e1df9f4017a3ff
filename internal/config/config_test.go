package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHANNEL_ID", "BOT_API_TOKEN", "API_BASE",
		"ADMIN_CHAT_ID", "ALLOWED_CHAT_IDS", "QUILL_LOG_LEVEL", "QUILL_SESSION_DRIVER",
		"QUILL_REDIS_ADDR", "QUILL_SETTINGS_DSN", "QUILL_SERVER_PORT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_valid(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("Telegram.BotToken = %q", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.AdminChatID != 1001 {
		t.Errorf("Telegram.AdminChatID = %d, want 1001", cfg.Telegram.AdminChatID)
	}
	if len(cfg.Telegram.AllowedChatIDs) != 2 {
		t.Errorf("Telegram.AllowedChatIDs = %v, want 2 entries", cfg.Telegram.AllowedChatIDs)
	}
	if cfg.Telegram.PollTimeout != 20*time.Second {
		t.Errorf("Telegram.PollTimeout = %v, want 20s", cfg.Telegram.PollTimeout)
	}
	if cfg.Telegram.BaseURL != "https://api.telegram.org" {
		t.Errorf("Telegram.BaseURL = %q, want default", cfg.Telegram.BaseURL)
	}
	if cfg.Backend.Timeout != 15*time.Second {
		t.Errorf("Backend.Timeout = %v, want 15s", cfg.Backend.Timeout)
	}
	if cfg.Backend.PublishTimeout != 60*time.Second {
		t.Errorf("Backend.PublishTimeout = %v, want default 60s", cfg.Backend.PublishTimeout)
	}
	if cfg.Session.Driver != "redis" || cfg.Session.Redis.Addr != "redis:6379" || cfg.Session.Redis.DB != 2 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Scheduler.Timezone != "Asia/Tashkent" || len(cfg.Scheduler.AIGenerationTimes) != 2 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled = false, want default true")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

func TestLoad_missing_file(t *testing.T) {
	clearEnv(t)
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_credentials(t *testing.T) {
	clearEnv(t)
	_, err := Load("testdata/missing_credentials.yaml")
	if err == nil {
		t.Fatal("Load() with missing credentials should return error")
	}
	for _, name := range []string{"TELEGRAM_BOT_TOKEN", "BOT_API_TOKEN", "API_BASE"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestLoad_envOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg")
	t.Setenv("BOT_API_TOKEN", "api")
	t.Setenv("API_BASE", "https://content.example.com/")
	t.Setenv("TELEGRAM_CHANNEL_ID", "-100123")
	t.Setenv("ADMIN_CHAT_ID", "77")
	t.Setenv("ALLOWED_CHAT_IDS", "1, 2,,3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "https://content.example.com" {
		t.Errorf("Backend.BaseURL = %q, want trailing slash trimmed", cfg.Backend.BaseURL)
	}
	if cfg.Telegram.ChannelID != "-100123" {
		t.Errorf("Telegram.ChannelID = %q", cfg.Telegram.ChannelID)
	}
	if cfg.Telegram.AdminChatID != 77 {
		t.Errorf("Telegram.AdminChatID = %d, want 77", cfg.Telegram.AdminChatID)
	}
	if got := cfg.Telegram.AllowedChatIDs; len(got) != 3 || got[2] != 3 {
		t.Errorf("Telegram.AllowedChatIDs = %v, want [1 2 3]", got)
	}
}

func TestLoad_invalidAdminChatID(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg")
	t.Setenv("BOT_API_TOKEN", "api")
	t.Setenv("API_BASE", "https://content.example.com")
	t.Setenv("ADMIN_CHAT_ID", "not-a-number")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() with invalid ADMIN_CHAT_ID should return error")
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUILL_SERVER_PORT", "5555")
	t.Setenv("BOT_API_TOKEN", "from-env")
	t.Setenv("QUILL_SETTINGS_DSN", "postgres://quill@db/quill")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
	if cfg.Backend.Token != "from-env" {
		t.Errorf("Backend.Token = %q, want env override", cfg.Backend.Token)
	}
	if cfg.Settings.Driver != "postgres" {
		t.Errorf("Settings.Driver = %q, want postgres", cfg.Settings.Driver)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8081 {
		t.Errorf("default Server.Port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.Session.IdleTTL != 24*time.Hour {
		t.Errorf("default Session.IdleTTL = %v, want 24h", cfg.Session.IdleTTL)
	}
	if cfg.Scheduler.DailyPick != "0 10 * * *" {
		t.Errorf("default Scheduler.DailyPick = %q", cfg.Scheduler.DailyPick)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Telegram.BotToken = "tg"
	cfg.Backend.Token = "api"
	cfg.Backend.BaseURL = "https://content.example.com"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"session driver", func(c *Config) { c.Session.Driver = "bolt" }},
		{"settings driver", func(c *Config) { c.Settings.Driver = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Settings.Driver = "postgres" }},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"generation time", func(c *Config) { c.Scheduler.AIGenerationTimes = []string{"25:00"} }},
		{"concurrency", func(c *Config) { c.Dispatch.MaxConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() should return error")
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() on valid config = %v", err)
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock(" 09:05 ")
	if err != nil || h != 9 || m != 5 {
		t.Errorf("ParseClock() = %d, %d, %v", h, m, err)
	}
	if _, _, err := ParseClock("9am"); err == nil {
		t.Error("ParseClock(9am) should fail")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("QUILL_DOTENV_PROBE", "")
	os.Unsetenv("QUILL_DOTENV_PROBE")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("QUILL_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("QUILL_DOTENV_PROBE"); got != "loaded" {
		t.Errorf("QUILL_DOTENV_PROBE = %q, want loaded", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadDotEnv(missing) = %v, want nil", err)
	}
}
