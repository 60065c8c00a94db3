package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const metaSuffix = ".meta.json"

type fileMeta struct {
	ContentType string    `json:"content_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// FileStore persists blobs onto the local filesystem. Expiry is recorded in a
// sidecar file and enforced lazily on read.
type FileStore struct {
	basePath string
	now      func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data under a freshly generated key.
func (s *FileStore) Put(ctx context.Context, data []byte, ttl time.Duration, hint PutHint) (string, error) {
	key := NewKey(hint)
	if err := s.Write(ctx, key, data, fileMeta{ContentType: hint.MIME, ExpiresAt: expiryFor(s.now(), ttl)}); err != nil {
		return "", err
	}
	return key, nil
}

// Write persists data at the given relative key. Keys are cleaned to prevent
// directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte, meta fileMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storage: encode meta: %w", err)
	}
	if err := os.WriteFile(fullPath+metaSuffix, raw, 0o644); err != nil {
		return fmt.Errorf("storage: write meta: %w", err)
	}
	return nil
}

// Get reads the blob at key. Expired blobs are reported as ErrNotFound.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if meta, err := readMeta(fullPath); err == nil && !meta.ExpiresAt.IsZero() && !s.now().Before(meta.ExpiresAt) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, Unavailable("read file", err)
	}
	return data, nil
}

// Delete removes the blob and its sidecar.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	for _, p := range []string{fullPath, fullPath + metaSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *FileStore) resolve(key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), nil
}

func readMeta(fullPath string) (fileMeta, error) {
	var meta fileMeta
	raw, err := os.ReadFile(fullPath + metaSuffix)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(raw, &meta)
	return meta, err
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
