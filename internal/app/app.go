// Package app wires the engine, HTTP API and snapshot daemon into one
// process lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	httpapi "github.com/powersheet/sheetbase/internal/api/http"
	"github.com/powersheet/sheetbase/internal/config"
	"github.com/powersheet/sheetbase/internal/engine"
	"github.com/powersheet/sheetbase/internal/server"
	"github.com/powersheet/sheetbase/internal/snapshot"
)

// App manages the sheetbase service lifecycle.
type App struct {
	cfg *config.Config
	log *logrus.Entry

	engine   *engine.Engine
	shutdown *server.Manager
	http     *http.Server
	listener net.Listener
	daemon   *snapshot.Daemon

	mu      sync.Mutex
	running bool
	serveWg sync.WaitGroup
}

// New validates cfg and prepares the data directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg, log: logrus.WithField("component", "app")}, nil
}

// Start opens the engine, starts the HTTP server and, when enabled, the
// snapshot daemon.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	var err error
	a.engine, err = engine.Open(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}

	a.shutdown = server.NewManager(server.DefaultConfig())
	a.shutdown.Register("engine", a.engine)

	if a.cfg.Snapshot.Enabled {
		a.daemon = snapshot.NewDaemon(a.engine.Snapshots(), a.cfg.Snapshot.Interval)
		if err := a.daemon.Start(context.WithoutCancel(ctx)); err != nil {
			a.engine.Close()
			return err
		}
		a.shutdown.Register("snapshot daemon", a.daemon)
	}

	api := httpapi.NewHandler(a.engine, httpapi.Options{
		UploadDir:      a.cfg.HTTP.UploadDir,
		MaxUploadBytes: int64(a.cfg.HTTP.MaxUploadMB) << 20,
		DefaultTable:   a.cfg.Database.LegacyTable,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
	})
	a.http = &http.Server{
		Handler:      a.shutdown.Middleware(api.Routes()),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.listener, err = net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		a.shutdown.Shutdown(ctx, "listen failed")
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}

	a.serveWg.Add(1)
	go func() {
		defer a.serveWg.Done()
		if err := a.shutdown.Serve(a.http, a.listener); err != nil {
			a.log.WithError(err).Error("http server stopped")
		}
	}()

	a.running = true
	a.log.WithFields(logrus.Fields{
		"addr":      a.listener.Addr().String(),
		"database":  a.cfg.Database.Path,
		"snapshots": a.cfg.Snapshot.Enabled,
	}).Info("sheetbase started")
	return nil
}

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Engine returns the running engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Stop shuts the service down gracefully.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.serveWg.Wait()
	a.log.Info("sheetbase stopped")
	return err
}

// WaitForShutdown blocks until a termination signal arrives or ctx ends,
// then shuts down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.Wait(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.serveWg.Wait()
	return err
}

// ConfigureLogging applies the level and format from cfg to the standard
// logrus logger.
func ConfigureLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", cfg.Format)
	}
	return nil
}
