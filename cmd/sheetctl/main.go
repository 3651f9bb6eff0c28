// Package main provides sheetctl, the administration CLI for a sheetbase
// data directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powersheet/sheetbase/internal/app"
	"github.com/powersheet/sheetbase/internal/config"
	"github.com/powersheet/sheetbase/internal/engine"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	dataDir    string
	dbPath     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "sheetctl",
		Short:         "Administer a sheetbase data directory",
		Long:          `sheetctl opens the sheetbase database directly to list, import, inspect and snapshot sheets.`,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "Base directory for all data files")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite database file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newSheetsCmd(g),
		newImportCmd(g),
		newSchemaCmd(g),
		newRowsCmd(g),
		newQueryCmd(g),
		newSnapshotCmd(g),
	)
	return root
}

// load builds the configuration from the file, environment and flags.
func (g *globalFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(g.configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.dbPath != "" {
		cfg.Database.Path = g.dbPath
	}
	cfg.Log.Level = g.logLevel
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, cfg.EnsureDirectories()
}

// withEngine opens the engine for the duration of fn.
func (g *globalFlags) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := engine.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
