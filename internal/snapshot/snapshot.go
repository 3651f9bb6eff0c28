// Package snapshot takes compressed whole-database backups and pushes them
// to object storage.
//
// A snapshot is produced with VACUUM INTO, framed with snappy and uploaded
// under KeyPrefix. Restore is an offline operation: it writes a database
// file that a new engine can be opened on.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/db"
	"github.com/powersheet/sheetbase/internal/storage"
)

const (
	// KeyPrefix is the object key prefix for snapshots.
	KeyPrefix = "snapshots/"

	// Extension is appended to every snapshot key.
	Extension = ".db.sz"

	idTimeLayout = "20060102T150405Z"
)

// Info describes a stored snapshot.
type Info struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config controls a Manager.
type Config struct {
	// WorkDir holds the uncompressed and compressed files while a snapshot
	// is being built.
	WorkDir string

	// Retain is how many snapshots Prune keeps; 0 keeps all of them.
	Retain int
}

// Manager creates, lists, restores and prunes snapshots.
type Manager struct {
	db     *db.DB
	store  storage.ObjectStorage
	config Config
	log    *logrus.Entry
}

// NewManager creates a snapshot manager. d may be nil for a manager that
// only lists and restores.
func NewManager(d *db.DB, store storage.ObjectStorage, cfg Config) (*Manager, error) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: failed to create work dir: %w", err)
	}
	return &Manager{
		db:     d,
		store:  store,
		config: cfg,
		log:    logrus.WithField("component", "snapshot"),
	}, nil
}

// Create snapshots the database, uploads it and prunes old snapshots.
func (m *Manager) Create(ctx context.Context) (*Info, error) {
	if m.db == nil {
		return nil, fmt.Errorf("snapshot: no database attached")
	}

	now := time.Now().UTC()
	id := now.Format(idTimeLayout) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	rawPath := filepath.Join(m.config.WorkDir, id+".db")
	packedPath := rawPath + ".sz"
	defer os.Remove(rawPath)
	defer os.Remove(packedPath)

	start := time.Now()
	if err := m.db.VacuumInto(ctx, rawPath); err != nil {
		return nil, err
	}
	if err := CompressFile(rawPath, packedPath); err != nil {
		return nil, err
	}

	key := KeyPrefix + id + Extension
	obj, err := m.store.Put(ctx, packedPath, key)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to upload %s: %w", key, err)
	}

	info := &Info{ID: id, Key: key, Size: obj.Size, CreatedAt: now}
	m.log.WithFields(logrus.Fields{
		"id":       id,
		"size":     obj.Size,
		"duration": time.Since(start),
	}).Info("snapshot created")

	if _, err := m.Prune(ctx); err != nil {
		m.log.WithError(err).Warn("failed to prune snapshots")
	}
	return info, nil
}

// List returns the stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	objects, err := m.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(objects))
	for _, obj := range objects {
		id, ok := parseKey(obj.Key)
		if !ok {
			continue
		}
		info := Info{ID: id, Key: obj.Key, Size: obj.Size, CreatedAt: obj.ModTime}
		if ts, err := time.Parse(idTimeLayout, strings.SplitN(id, "-", 2)[0]); err == nil {
			info.CreatedAt = ts
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID > infos[j].ID })
	return infos, nil
}

// Restore downloads snapshot id and writes the database file to dest.
// dest must not exist.
func (m *Manager) Restore(ctx context.Context, id, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot: restore target %s already exists", dest)
	}

	packedPath := filepath.Join(m.config.WorkDir, "restore-"+uuid.NewString()+".sz")
	defer os.Remove(packedPath)

	if err := m.store.Get(ctx, KeyPrefix+id+Extension, packedPath); err != nil {
		return fmt.Errorf("snapshot: failed to fetch %s: %w", id, err)
	}
	if err := DecompressFile(packedPath, dest); err != nil {
		os.Remove(dest)
		return err
	}

	m.log.WithFields(logrus.Fields{"id": id, "dest": dest}).Info("snapshot restored")
	return nil
}

// Prune deletes all but the newest Retain snapshots and returns how many
// were removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	if m.config.Retain <= 0 {
		return 0, nil
	}
	infos, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range infos[min(len(infos), m.config.Retain):] {
		if err := m.store.Delete(ctx, info.Key); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		m.log.WithField("removed", removed).Debug("pruned snapshots")
	}
	return removed, nil
}

func parseKey(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) || !strings.HasSuffix(key, Extension) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, KeyPrefix), Extension)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// CompressFile writes src to dst using the snappy framing format.
func CompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("snapshot: failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("snapshot: failed to create %s: %w", dst, err)
	}
	defer out.Close()

	w := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("snapshot: failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("snapshot: failed to compress: %w", err)
	}
	return out.Sync()
}

// DecompressFile reverses CompressFile.
func DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("snapshot: failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("snapshot: failed to create directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("snapshot: failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		return fmt.Errorf("snapshot: failed to decompress: %w", err)
	}
	return out.Sync()
}
