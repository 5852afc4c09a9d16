package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowdrop/flowdrop/internal/bytesize"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

storage:
  root: "` + filepath.ToSlash(tmpDir) + `/files"

database:
  type: sqlite
  sqlite:
    path: "` + filepath.ToSlash(tmpDir) + `/flowdrop.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Upload.Workers != 4 {
		t.Errorf("Expected default 4 upload workers, got %d", cfg.Upload.Workers)
	}
	if cfg.Upload.NudgeInterval != 10*time.Second {
		t.Errorf("Expected default nudge interval 10s, got %v", cfg.Upload.NudgeInterval)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Expected default token TTL 24h, got %v", cfg.Auth.TokenTTL)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "DEBUG"
  format: "json"

server:
  host: "127.0.0.1"
  port: 9191

storage:
  root: "` + filepath.ToSlash(tmpDir) + `/files"
  max_slice_size: 4MiB

upload:
  workers: 8
  nudge_interval: 3s

database:
  type: sqlite
  sqlite:
    path: "` + filepath.ToSlash(tmpDir) + `/flowdrop.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format json, got %q", cfg.Logging.Format)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9191 {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.MaxSliceSize != 4*bytesize.MiB {
		t.Errorf("Expected max_slice_size 4MiB, got %d", cfg.Storage.MaxSliceSize)
	}
	if cfg.Upload.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Upload.Workers)
	}
	if cfg.Upload.NudgeInterval != 3*time.Second {
		t.Errorf("Expected nudge interval 3s, got %v", cfg.Upload.NudgeInterval)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults when config file is missing, got error: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("logging: [not: valid"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Server.Port = 9999
	cfg.Storage.Root = filepath.ToSlash(filepath.Join(tmpDir, "files"))
	cfg.Database.SQLite.Path = filepath.ToSlash(filepath.Join(tmpDir, "flowdrop.db"))

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("Expected port 9999 after round trip, got %d", loaded.Server.Port)
	}
	if loaded.Storage.Root != cfg.Storage.Root {
		t.Errorf("Expected storage root %q, got %q", cfg.Storage.Root, loaded.Storage.Root)
	}
}
