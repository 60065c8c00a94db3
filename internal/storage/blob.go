package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/domain"
)

// ErrNotFound is returned when a key does not exist or its TTL has elapsed.
var ErrNotFound = errors.New("storage: object not found")

// PutHint describes the object being stored so backends can derive a key and
// content metadata.
type PutHint struct {
	// Scope groups objects, e.g. "uploads" or "results".
	Scope string
	// Owner is the account or job the object belongs to.
	Owner string
	MIME  string
	Ext   string
}

// BlobStore is durable object storage keyed by opaque keys with an expiry hint.
type BlobStore interface {
	Put(ctx context.Context, data []byte, ttl time.Duration, hint PutHint) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is idempotent: deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
}

// NewKey builds a unique object key for hint.
func NewKey(hint PutHint) string {
	scope := strings.Trim(hint.Scope, "/")
	if scope == "" {
		scope = "objects"
	}
	category := "files"
	switch {
	case strings.HasPrefix(hint.MIME, "image/"):
		category = "images"
	case strings.HasPrefix(hint.MIME, "video/"):
		category = "videos"
	case hint.Ext == ".cube":
		category = "luts"
	}
	ext := hint.Ext
	if ext == "" {
		ext = domain.ExtensionForMIME(hint.MIME)
	}
	owner := strings.Trim(hint.Owner, "/")
	if owner == "" {
		owner = "shared"
	}
	return path.Join(scope, category, owner, uuid.NewString()+ext)
}

// Unavailable wraps a backend transport error so callers treat it as transient.
func Unavailable(op string, err error) error {
	return fmt.Errorf("storage: %s: %w: %v", op, domain.ErrStorageUnavailable, err)
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
