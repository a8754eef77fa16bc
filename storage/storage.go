// Package storage keeps export snapshots on the local filesystem or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("storage: object not found")

// Archive stores opaque blobs under slash-separated keys.
type Archive interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config contains filesystem storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./exports",
	}
}

// Storage is the filesystem Archive.
type Storage struct {
	config Config
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
	}, nil
}

// ExportKey builds the key an owner's snapshot taken at t is stored under:
// exports/<owner>/<YYYYMMDDTHHMMSS.mmmZ>.json
func ExportKey(owner string, t time.Time) string {
	return path.Join("exports", owner, t.UTC().Format("20060102T150405.000Z")+".json")
}

// OwnerPrefix is the key prefix every export of owner starts with.
func OwnerPrefix(owner string) string {
	return path.Join("exports", owner) + "/"
}

// CleanKey validates a key and returns its canonical form. Absolute keys and
// keys escaping the archive root are rejected.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return cleaned, nil
}

// Save writes data under key, replacing any previous object.
func (s *Storage) Save(ctx context.Context, key string, data []byte, _ string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	// Write to a temp file first so readers never see a partial export.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move export file into place: %w", err)
	}
	return nil
}

// Read returns the object stored under key.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}
	return data, nil
}

// Delete removes the object under key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete export file: %w", err)
	}
	return nil
}

func (s *Storage) fullPath(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.config.BasePath, filepath.FromSlash(cleaned)), nil
}
