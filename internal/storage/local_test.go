package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/powersheet/sheetbase/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "hello world")

	info, err := store.Put(ctx, src, "snapshots/a.db.sz")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if info.Key != "snapshots/a.db.sz" || info.Size != 11 || info.ETag == "" {
		t.Errorf("unexpected info: %+v", info)
	}

	dst := filepath.Join(t.TempDir(), "out", "a.db.sz")
	if err := store.Get(ctx, "snapshots/a.db.sz", dst); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "hello world" {
		t.Errorf("content = %q", got)
	}

	if err := store.Delete(ctx, "snapshots/a.db.sz"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "snapshots/a.db.sz"); err != nil {
		t.Errorf("repeat Delete should be a no-op, got %v", err)
	}
	if err := store.Get(ctx, "snapshots/a.db.sz", dst); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get after delete error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()
	src := writeTemp(t, "x")

	for _, key := range []string{"snapshots/2", "snapshots/1", "other/3"} {
		if _, err := store.Put(ctx, src, key); err != nil {
			t.Fatalf("Put(%s) failed: %v", key, err)
		}
	}

	objects, err := store.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 2 || objects[0].Key != "snapshots/1" || objects[1].Key != "snapshots/2" {
		t.Errorf("objects = %+v", objects)
	}

	all, _ := store.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("got %d objects, want 3", len(all))
	}
}

func TestLocalStorage_InvalidKeys(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()
	src := writeTemp(t, "x")

	for _, key := range []string{"", "/abs", "../escape", "a/../../b", `a\b`} {
		if _, err := store.Put(ctx, src, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, writeTemp(t, "x"), "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Put error = %v, want context.Canceled", err)
	}
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := store.(*LocalStorage); !ok {
		t.Errorf("got %T, want *LocalStorage", store)
	}

	if _, err := New(context.Background(), config.StorageConfig{Type: "ftp"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
