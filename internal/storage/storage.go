// Package storage stores database snapshots in an object store: a local
// directory or an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/powersheet/sheetbase/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrInvalidKey     = errors.New("invalid object key")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	ETag    string    `json:"etag,omitempty"`
}

// ObjectStorage abstracts the object store holding snapshots.
type ObjectStorage interface {
	// Put uploads the file at localPath under key and returns its info.
	Put(ctx context.Context, localPath, key string) (ObjectInfo, error)

	// Get downloads key to localPath. A missing key is ErrObjectNotFound.
	Get(ctx context.Context, key, localPath string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartConfig controls multipart uploads.
type MultipartConfig struct {
	// PartSize is the size of each part in bytes (default: 8MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartConfig {
	return MultipartConfig{PartSize: 8 * 1024 * 1024}
}

// New returns the object storage described by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			Prefix:          cfg.S3.Prefix,
			MultipartConfig: DefaultMultipartConfig(),
		})
	default:
		return nil, fmt.Errorf("storage: unsupported type %q", cfg.Type)
	}
}

// validateKey rejects keys that could escape the store's namespace.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
