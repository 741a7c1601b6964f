package modelstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// BlobCache is a persistent URL-keyed byte store.
type BlobCache interface {
	// Get returns the blob for key. ok is false on a miss.
	Get(key string) (data []byte, ok bool, err error)
	// Put stores data under key. A reader never observes a partial blob.
	Put(key string, data []byte) error
	// Exists reports whether key is stored. It performs no network I/O.
	Exists(key string) bool
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// FSCache stores blobs as files named by the SHA-256 of their key.
type FSCache struct {
	dir string
}

// NewFSCache creates the cache directory if needed.
func NewFSCache(dir string) (*FSCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FSCache{dir: dir}, nil
}

func (c *FSCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".bin")
}

func (c *FSCache) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached blob: %w", err)
	}
	return data, true, nil
}

// Put writes through a temp file and renames it into place.
func (c *FSCache) Put(key string, data []byte) error {
	if err := renameio.WriteFile(c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cached blob: %w", err)
	}
	return nil
}

func (c *FSCache) Exists(key string) bool {
	_, err := os.Stat(c.path(key))
	return err == nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *FSCache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
