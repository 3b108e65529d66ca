// Package fs is a kv.Store keeping one JSON file per key in a directory.
//
// It suits development and single host deployments. File names are the
// path-escaped key, so every key maps to exactly one file and back.
package fs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/panyam/authadapters/kv"
)

const fileExt = ".json"

// Store keeps values as files under StoragePath.
type Store struct {
	StoragePath string
}

var (
	_ kv.Store = (*Store)(nil)
	_ kv.Taker = (*Store)(nil)
)

// New creates the storage directory if needed.
func New(storagePath string) (*Store, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Store{StoragePath: storagePath}, nil
}

// FileName returns the file name holding key.
func FileName(key string) string {
	return url.PathEscape(key) + fileExt
}

// KeyFromFileName reverses FileName.
func KeyFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

func (s *Store) path(key string) string {
	return filepath.Join(s.StoragePath, FileName(key))
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	return writeAtomicFile(s.path(key), value)
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Take moves the file to a private name before reading it. Only one of
// several concurrent renames of the same file succeeds.
func (s *Store) Take(_ context.Context, key string) ([]byte, error) {
	claimed := filepath.Join(s.StoragePath, ".take-"+uuid.NewString())
	if err := os.Rename(s.path(key), claimed); err != nil {
		if os.IsNotExist(err) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	defer os.Remove(claimed)
	return os.ReadFile(claimed)
}

// Keys lists the stored keys starting with prefix, sorted.
func (s *Store) Keys(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.StoragePath)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := KeyFromFileName(e.Name()); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
