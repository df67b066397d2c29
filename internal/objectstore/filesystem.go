package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// FilesystemStore implements Store for local development and tests.
// Presigned URLs are synthesized file URLs with an expiry query parameter;
// nothing enforces them, which is fine for a dev backend.
type FilesystemStore struct {
	baseDir string
	bucket  string
}

// NewFilesystemStore creates a filesystem store rooted at baseDir/bucket.
func NewFilesystemStore(baseDir, bucket string) (*FilesystemStore, error) {
	root := filepath.Join(baseDir, bucket)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir, bucket: bucket}, nil
}

func (fs *FilesystemStore) Bucket() string {
	return fs.bucket
}

func (fs *FilesystemStore) path(key string) (string, error) {
	path := filepath.Join(fs.baseDir, fs.bucket, key)

	// Security: prevent directory traversal
	root := filepath.Clean(filepath.Join(fs.baseDir, fs.bucket))
	if !filepath.HasPrefix(filepath.Clean(path), root) {
		return "", fmt.Errorf("invalid key: path traversal detected")
	}
	return path, nil
}

func (fs *FilesystemStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	// Write to a temp file then rename to avoid partial objects on crash
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func (fs *FilesystemStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	path, err := fs.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("object not found: %s", key)
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}

	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("file://%s?expires=%d", url.PathEscape(path), expires), nil
}
