// Package config provides configuration for the sheetbase server and tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a sheetbase instance.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Logging configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Snapshot configuration
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
}

// DatabaseConfig holds storage engine configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file; defaults to <data_dir>/sheets.db
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long a statement waits on a locked database
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// LockStripes is the number of per-table lock stripes
	LockStripes int `json:"lock_stripes" yaml:"lock_stripes"`

	// LegacyTable is the pre-catalog table adopted as "Imported Data"
	LegacyTable string `json:"legacy_table" yaml:"legacy_table"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxUploadMB bounds the size of an uploaded file (1–1024, default 100)
	MaxUploadMB int `json:"max_upload_mb" yaml:"max_upload_mb"`

	// UploadDir holds uploaded files while they are imported
	UploadDir string `json:"upload_dir" yaml:"upload_dir"`

	// AllowedOrigins lists the CORS origins of browser clients; empty allows any
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// SnapshotConfig holds database snapshot configuration.
type SnapshotConfig struct {
	// Enabled turns on periodic snapshots
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the time between periodic snapshots
	Interval time.Duration `json:"interval" yaml:"interval"`

	// WorkDir holds temporary snapshot files
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Retain is the number of snapshots kept; 0 keeps all
	Retain int `json:"retain" yaml:"retain"`

	// Storage is where snapshots are uploaded
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing (MinIO and similar)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix is prepended to every snapshot key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/sheetbase",
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
			LockStripes: 64,
			LegacyTable: "main_dataset",
		},
		HTTP: HTTPConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxUploadMB:  100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Interval: time.Hour,
			Retain:   24,
			Storage: StorageConfig{
				Type: "local",
			},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/sheetbase"
	}

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "sheets.db")
	}
	if c.HTTP.UploadDir == "" {
		c.HTTP.UploadDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.Snapshot.WorkDir == "" {
		c.Snapshot.WorkDir = filepath.Join(c.DataDir, "snapshot-work")
	}
	if c.Snapshot.Storage.Path == "" {
		c.Snapshot.Storage.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Database.LockStripes <= 0 {
		return fmt.Errorf("database.lock_stripes must be positive, got %d", c.Database.LockStripes)
	}

	if c.Database.LegacyTable == "" {
		return fmt.Errorf("database.legacy_table is required")
	}

	if c.HTTP.MaxUploadMB < 1 || c.HTTP.MaxUploadMB > 1024 {
		return fmt.Errorf("http.max_upload_mb must be between 1 and 1024, got %d", c.HTTP.MaxUploadMB)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Snapshot.Storage.Type != "local" && c.Snapshot.Storage.Type != "s3" {
		return fmt.Errorf("invalid snapshot storage type: %s (must be local or s3)", c.Snapshot.Storage.Type)
	}

	if c.Snapshot.Storage.Type == "s3" && c.Snapshot.Storage.S3.Bucket == "" {
		return fmt.Errorf("snapshot.storage.s3.bucket is required when storage type is s3")
	}

	if c.Snapshot.Enabled && c.Snapshot.Interval < time.Minute {
		return fmt.Errorf("snapshot.interval must be at least 1m, got %s", c.Snapshot.Interval)
	}

	if c.Snapshot.Retain < 0 {
		return fmt.Errorf("snapshot.retain must not be negative, got %d", c.Snapshot.Retain)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SHEETBASE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SHEETBASE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Database configuration
	if v := os.Getenv("SHEETBASE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SHEETBASE_DB_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}
	if v := os.Getenv("SHEETBASE_DB_LOCK_STRIPES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.LockStripes)
	}
	if v := os.Getenv("SHEETBASE_LEGACY_TABLE"); v != "" {
		cfg.Database.LegacyTable = v
	}

	// HTTP configuration
	if v := os.Getenv("SHEETBASE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SHEETBASE_HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SHEETBASE_HTTP_MAX_UPLOAD_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.HTTP.MaxUploadMB)
	}

	// Logging configuration
	if v := os.Getenv("SHEETBASE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SHEETBASE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Snapshot configuration
	if v := os.Getenv("SHEETBASE_SNAPSHOT_ENABLED"); v != "" {
		cfg.Snapshot.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SHEETBASE_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.Interval = d
		}
	}
	if v := os.Getenv("SHEETBASE_SNAPSHOT_RETAIN"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Snapshot.Retain)
	}
	if v := os.Getenv("SHEETBASE_STORAGE_TYPE"); v != "" {
		cfg.Snapshot.Storage.Type = v
	}
	if v := os.Getenv("SHEETBASE_STORAGE_PATH"); v != "" {
		cfg.Snapshot.Storage.Path = v
	}
	if v := os.Getenv("SHEETBASE_S3_BUCKET"); v != "" {
		cfg.Snapshot.Storage.S3.Bucket = v
	}
	if v := os.Getenv("SHEETBASE_S3_REGION"); v != "" {
		cfg.Snapshot.Storage.S3.Region = v
	}
	if v := os.Getenv("SHEETBASE_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("SHEETBASE_S3_PATH_STYLE"); v != "" {
		cfg.Snapshot.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv("SHEETBASE_S3_PREFIX"); v != "" {
		cfg.Snapshot.Storage.S3.Prefix = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
		c.HTTP.UploadDir,
	}
	if c.Snapshot.Enabled || c.Snapshot.Storage.Type == "local" {
		dirs = append(dirs, c.Snapshot.WorkDir)
	}
	if c.Snapshot.Storage.Type == "local" {
		dirs = append(dirs, c.Snapshot.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
