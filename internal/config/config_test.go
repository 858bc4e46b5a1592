package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	content := `
telegram:
  bot_token: "test_token"
  chat_id: "-1001234"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"

tasks:
  position-change:
    thread_id: 123
    threshold: 2.5
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Telegram.BotToken != "test_token" {
		t.Errorf("bot_token = %q", cfg.Telegram.BotToken)
	}
	if cfg.Storage.DBPath != "./data/test.db" {
		t.Errorf("db_path = %q", cfg.Storage.DBPath)
	}

	// File overrides merge over built-in task defaults.
	task := cfg.Tasks["position-change"]
	if task.ThreadID != 123 {
		t.Errorf("thread_id = %d, want 123", task.ThreadID)
	}
	if task.Threshold != 2.5 {
		t.Errorf("threshold = %v, want 2.5", task.Threshold)
	}
	if task.Mode != "delta" {
		t.Errorf("default mode = %q, want delta", task.Mode)
	}
	if task.TimeBucket != 15*time.Minute {
		t.Errorf("default time_bucket = %v, want 15m", task.TimeBucket)
	}
	if task.Retention.MaxAge != 4*time.Hour {
		t.Errorf("default retention max_age = %v, want 4h", task.Retention.MaxAge)
	}

	// The other built-in tasks come entirely from defaults.
	news := cfg.Tasks["news"]
	if news.Mode != "items" || news.Retention.MaxIDs != 1000 {
		t.Errorf("news defaults wrong: %+v", news)
	}
	whale := cfg.Tasks["whale-position"]
	if whale.Mode != "delta" || whale.Field != "top_position_ratio" {
		t.Errorf("whale-position defaults wrong: %+v", whale)
	}
	hl := cfg.Tasks["hyperliquid"]
	if hl.MinNotional != 1_000_000 || hl.Retention.MaxIDs != 500 {
		t.Errorf("hyperliquid defaults wrong: %+v", hl)
	}
	if len(cfg.Tasks) != 6 {
		t.Errorf("got %d tasks, want 6 built-ins", len(cfg.Tasks))
	}
}

func TestValidate_Errors(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"telegram enabled without token", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.ChatID = "1"
		}},
		{"zero dispatch interval", func(c *Config) {
			c.Dispatch.MinInterval = 0
		}},
		{"tiny run timeout", func(c *Config) {
			c.Run.Timeout = time.Second
		}},
		{"no tasks", func(c *Config) {
			c.Tasks = nil
		}},
		{"bad log level", func(c *Config) {
			c.Logging.Level = "verbose"
		}},
		{"delta task without field", func(c *Config) {
			task := c.Tasks["position-change"]
			task.Field = ""
			c.Tasks["position-change"] = task
		}},
		{"task without retention", func(c *Config) {
			task := c.Tasks["news"]
			task.Retention = RetentionConfig{}
			c.Tasks["news"] = task
		}},
		{"negative min notional", func(c *Config) {
			task := c.Tasks["hyperliquid"]
			task.MinNotional = -1
			c.Tasks["hyperliquid"] = task
		}},
		{"unknown mode", func(c *Config) {
			task := c.Tasks["news"]
			task.Mode = "stream"
			c.Tasks["news"] = task
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
