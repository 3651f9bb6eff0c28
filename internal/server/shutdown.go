// Package server coordinates graceful shutdown of the HTTP server and the
// resources behind it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls shutdown timing.
type Config struct {
	// Timeout bounds the whole shutdown sequence (default: 30s)
	Timeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests (default: 15s)
	DrainTimeout time.Duration
}

// DefaultConfig returns the default shutdown configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DrainTimeout: 15 * time.Second,
	}
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Manager tracks in-flight requests and closes registered resources in
// reverse registration order once shutdown begins.
type Manager struct {
	cfg Config
	log *logrus.Entry

	done     chan struct{}
	once     sync.Once
	inFlight atomic.Int64
	stopping atomic.Bool

	mu      sync.Mutex
	closers []namedCloser
}

// NewManager creates a shutdown manager.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Manager{
		cfg:  cfg,
		log:  logrus.WithField("component", "shutdown"),
		done: make(chan struct{}),
	}
}

// Register adds a resource closed during shutdown. Resources are closed
// last-registered first.
func (m *Manager) Register(name string, c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, namedCloser{name: name, closer: c})
}

// Wait blocks until SIGINT or SIGTERM arrives, ctx ends, or Shutdown is
// called elsewhere, then shuts down.
func (m *Manager) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return m.Shutdown(context.Background(), fmt.Sprintf("received signal %v", sig))
	case <-ctx.Done():
		return m.Shutdown(context.Background(), "context cancelled")
	case <-m.done:
		return nil
	}
}

// Shutdown drains in-flight requests and closes every registered resource.
// Only the first call does any work.
func (m *Manager) Shutdown(ctx context.Context, reason string) error {
	var errs []error
	m.once.Do(func() {
		m.stopping.Store(true)
		close(m.done)
		m.log.WithField("reason", reason).Info("shutting down")

		ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()

		if err := m.drain(ctx); err != nil {
			errs = append(errs, err)
		}

		m.mu.Lock()
		closers := m.closers
		m.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].closer.Close(); err != nil {
				m.log.WithError(err).WithField("resource", closers[i].name).Warn("close failed")
				errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
			}
		}
		m.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

func (m *Manager) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if n := m.inFlight.Load(); n > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", n)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Done is closed when shutdown begins.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Stopping reports whether shutdown has begun.
func (m *Manager) Stopping() bool {
	return m.stopping.Load()
}

// InFlight returns the number of requests being served.
func (m *Manager) InFlight() int64 {
	return m.inFlight.Load()
}

// Middleware counts in-flight requests and rejects new ones with 503 once
// shutdown has begun.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.stopping.Load() {
			w.Header().Set("Connection", "close")
			http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
			return
		}
		m.inFlight.Add(1)
		defer m.inFlight.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// Serve runs srv on ln until shutdown. The server is registered so that
// Shutdown stops it gracefully.
func (m *Manager) Serve(srv *http.Server, ln net.Listener) error {
	stop := CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	m.Register("http server", stop)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-m.done:
		// Shutdown may have collected the closers before Register ran.
		if err := stop(); err != nil {
			m.log.WithError(err).Warn("http server shutdown failed")
		}
		return <-errCh
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
