package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	m := NewManager(Config{Timeout: time.Second, DrainTimeout: 100 * time.Millisecond})

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"engine", "snapshots", "http"} {
		name := name
		m.Register(name, CloserFunc(func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}))
	}

	if err := m.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	want := []string{"http", "snapshots", "engine"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}

	// Second call is a no-op.
	if err := m.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("second Shutdown returned %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran %d times", len(order))
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	m := NewManager(DefaultConfig())
	boom := errors.New("boom")
	m.Register("bad", CloserFunc(func() error { return boom }))

	if err := m.Shutdown(context.Background(), "test"); !errors.Is(err, boom) {
		t.Errorf("Shutdown error = %v, want boom", err)
	}
}

func TestMiddleware_RejectsAfterShutdown(t *testing.T) {
	m := NewManager(DefaultConfig())
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.InFlight() != 1 {
			t.Errorf("in-flight = %d, want 1", m.InFlight())
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	m.Shutdown(context.Background(), "test")
	if !m.Stopping() {
		t.Fatal("expected Stopping after shutdown")
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestServe_StopsOnShutdown(t *testing.T) {
	m := NewManager(DefaultConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.NotFoundHandler()}

	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(srv, ln) }()

	time.Sleep(50 * time.Millisecond)
	if err := m.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
