package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSOptions configures a Google Cloud Storage bucket.
type GCSOptions struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// GCSStore stores blobs in a GCS bucket. The TTL hint is written as the
// object's CustomTime so a DaysSinceCustomTime lifecycle rule can expire it.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewGCSStore opens a client using the given service-account file, or
// application default credentials when empty.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/"), now: time.Now}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(key string) *gcs.ObjectHandle {
	name := key
	if s.prefix != "" {
		name = s.prefix + "/" + key
	}
	return s.client.Bucket(s.bucket).Object(name)
}

func (s *GCSStore) Put(ctx context.Context, data []byte, ttl time.Duration, hint PutHint) (string, error) {
	key := NewKey(hint)
	wc := s.object(key).NewWriter(ctx)
	wc.ContentType = hint.MIME
	if exp := expiryFor(s.now(), ttl); !exp.IsZero() {
		wc.CustomTime = exp
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", Unavailable(fmt.Sprintf("gcs write %s", key), err)
	}
	if err := wc.Close(); err != nil {
		return "", Unavailable(fmt.Sprintf("gcs close %s", key), err)
	}
	return key, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj := s.object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, Unavailable(fmt.Sprintf("gcs attrs %s", key), err)
	}
	if !attrs.CustomTime.IsZero() && !s.now().Before(attrs.CustomTime) {
		return nil, ErrNotFound
	}
	rc, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, Unavailable(fmt.Sprintf("gcs read %s", key), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, Unavailable(fmt.Sprintf("gcs read %s", key), err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return Unavailable(fmt.Sprintf("gcs delete %s", key), err)
	}
	return nil
}
