package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Daemon takes snapshots on a fixed interval.
type Daemon struct {
	manager  *Manager
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a daemon snapshotting every interval.
func NewDaemon(m *Manager, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Daemon{manager: m, interval: interval}
}

// Start begins the snapshot loop. It runs until ctx ends or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("snapshot: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})

	go d.run(ctx)
	return nil
}

// Stop halts the loop and waits for an in-progress snapshot to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// Close implements io.Closer.
func (d *Daemon) Close() error {
	return d.Stop()
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.manager.log.WithField("interval", d.interval).Info("snapshot daemon started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.manager.Create(ctx); err != nil && ctx.Err() == nil {
				d.manager.log.WithError(err).Error("periodic snapshot failed")
			}
		}
	}
}
