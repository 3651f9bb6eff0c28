// Package main implements the sheetbase server binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/app"
	"github.com/powersheet/sheetbase/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		addr        string
		dbPath      string
		logLevel    string
		snapshots   bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.StringVar(&dbPath, "db", "", "SQLite database file")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&snapshots, "snapshots", false, "Enable periodic snapshots")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sheetbase - spreadsheet data engine server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: sheetbase [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SHEETBASE_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  SHEETBASE_HTTP_ADDR       HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  SHEETBASE_LOG_LEVEL       Log level\n")
		fmt.Fprintf(os.Stderr, "  SHEETBASE_STORAGE_TYPE    Snapshot storage type (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("sheetbase version %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if snapshots {
		cfg.Snapshot.Enabled = true
	}

	if err := app.ConfigureLogging(cfg.Log); err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		logrus.Fatalf("failed to create application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		logrus.Fatalf("failed to start: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logrus.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, then applies the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
