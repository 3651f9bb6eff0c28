package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Database.Path != filepath.Join("./data/sheetbase", "sheets.db") {
		t.Errorf("database path = %s", cfg.Database.Path)
	}
	if cfg.Snapshot.Storage.Path != filepath.Join("./data/sheetbase", "snapshots") {
		t.Errorf("snapshot path = %s", cfg.Snapshot.Storage.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero stripes", func(c *Config) { c.Database.LockStripes = 0 }},
		{"no legacy table", func(c *Config) { c.Database.LegacyTable = "" }},
		{"upload too big", func(c *Config) { c.HTTP.MaxUploadMB = 4096 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad storage", func(c *Config) { c.Snapshot.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Snapshot.Storage.Type = "s3" }},
		{"short interval", func(c *Config) { c.Snapshot.Enabled = true; c.Snapshot.Interval = time.Second }},
		{"negative retain", func(c *Config) { c.Snapshot.Retain = -1 }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetbase.yaml")
	data := `
data_dir: /var/lib/sheetbase
database:
  lock_stripes: 16
http:
  addr: ":9000"
  read_timeout: 5s
log:
  level: debug
  format: json
snapshot:
  enabled: true
  interval: 30m
  storage:
    type: s3
    s3:
      bucket: backups
      use_path_style: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/sheetbase" || cfg.Database.LockStripes != 16 || cfg.HTTP.Addr != ":9000" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.HTTP.ReadTimeout != 5*time.Second || cfg.Snapshot.Interval != 30*time.Minute {
		t.Errorf("durations not parsed: %v %v", cfg.HTTP.ReadTimeout, cfg.Snapshot.Interval)
	}
	if cfg.Snapshot.Storage.S3.Bucket != "backups" || !cfg.Snapshot.Storage.S3.UsePathStyle {
		t.Errorf("s3 config = %+v", cfg.Snapshot.Storage.S3)
	}
	// Unset fields keep their defaults.
	if cfg.Database.LegacyTable != "main_dataset" || cfg.HTTP.MaxUploadMB != 100 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetbase.toml")
	os.WriteFile(path, []byte("x = 1"), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHEETBASE_DATA_DIR", "/tmp/sb")
	t.Setenv("SHEETBASE_HTTP_ADDR", ":7000")
	t.Setenv("SHEETBASE_DB_LOCK_STRIPES", "8")
	t.Setenv("SHEETBASE_SNAPSHOT_ENABLED", "true")
	t.Setenv("SHEETBASE_SNAPSHOT_INTERVAL", "2h")
	t.Setenv("SHEETBASE_STORAGE_TYPE", "s3")
	t.Setenv("SHEETBASE_S3_BUCKET", "b")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.DataDir != "/tmp/sb" || cfg.HTTP.Addr != ":7000" || cfg.Database.LockStripes != 8 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.Snapshot.Enabled || cfg.Snapshot.Interval != 2*time.Hour {
		t.Errorf("snapshot config = %+v", cfg.Snapshot)
	}
	if cfg.Snapshot.Storage.Type != "s3" || cfg.Snapshot.Storage.S3.Bucket != "b" {
		t.Errorf("storage config = %+v", cfg.Snapshot.Storage)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.HTTP.UploadDir, cfg.Snapshot.Storage.Path} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}
}
