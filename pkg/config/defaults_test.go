package config

import (
	"strings"
	"testing"
	"time"

	"github.com/flowdrop/flowdrop/pkg/store"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("Expected default database sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("Unexpected default server config: %+v", cfg.Server)
	}
	if cfg.Upload.Workers != 4 {
		t.Errorf("Expected 4 default workers, got %d", cfg.Upload.Workers)
	}
	if cfg.Upload.MailboxSize != 64 {
		t.Errorf("Expected default mailbox size 64, got %d", cfg.Upload.MailboxSize)
	}
	if !strings.HasSuffix(cfg.Storage.Root, "flowdrop/files") {
		t.Errorf("Expected storage root under flowdrop/files, got %q", cfg.Storage.Root)
	}
	if cfg.Admin.Username != "admin" {
		t.Errorf("Expected default admin username, got %q", cfg.Admin.Username)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"
	cfg.Server.Port = 9191
	cfg.Upload.NudgeInterval = 3 * time.Second

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Expected explicit port preserved, got %d", cfg.Server.Port)
	}
	if cfg.Upload.NudgeInterval != 3*time.Second {
		t.Errorf("Expected explicit nudge interval preserved, got %v", cfg.Upload.NudgeInterval)
	}
}

func TestApplyDefaults_MetricsPortOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port when disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090 when enabled, got %d", cfg.Metrics.Port)
	}
}
