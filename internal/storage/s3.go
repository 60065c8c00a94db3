package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Options configures an S3-compatible bucket.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
	// PathStyle is required by most self-hosted S3 implementations.
	PathStyle bool
}

// S3Store stores blobs in an S3 bucket. The TTL hint is written as the
// object's Expires header; bucket lifecycle rules do the physical cleanup.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
}

// NewS3Store builds a client from static credentials.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	s3Opts := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.PathStyle,
	}
	if opts.AccessKey != "" {
		s3Opts.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
	}
	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	client := s3.New(s3Opts)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		now:      time.Now,
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) Put(ctx context.Context, data []byte, ttl time.Duration, hint PutHint) (string, error) {
	key := NewKey(hint)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	}
	if hint.MIME != "" {
		input.ContentType = aws.String(hint.MIME)
	}
	if exp := expiryFor(s.now(), ttl); !exp.IsZero() {
		input.Expires = aws.Time(exp)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", Unavailable(fmt.Sprintf("s3 upload %s", key), err)
	}
	return key, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, Unavailable(fmt.Sprintf("s3 get %s", key), err)
	}
	defer out.Body.Close()
	if out.Expires != nil && !s.now().Before(*out.Expires) {
		return nil, ErrNotFound
	}
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Unavailable(fmt.Sprintf("s3 read %s", key), err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return Unavailable(fmt.Sprintf("s3 delete %s", key), err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
