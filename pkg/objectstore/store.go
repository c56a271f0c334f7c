// Package objectstore wraps an S3-compatible bucket behind the small surface the
// pipeline needs: list by prefix, put, get and remove.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// DefaultEndpoint is used when no endpoint is configured.
const DefaultEndpoint = "s3.amazonaws.com"

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store is an object namespace inside a single bucket.
type Store interface {
	Bucket() string
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Config holds the object store connection settings.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioStore is a Store backed by minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	logger ectologger.Logger
}

// NewMinioStore creates a client for cfg.Bucket. No request is made until first use.
func NewMinioStore(cfg Config, logger ectologger.Logger) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("object store bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}, nil
}

// Bucket returns the bucket name.
func (s *MinioStore) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.WithContext(ctx).Infof("Created bucket %s", s.bucket)
	return nil
}

// List returns every object whose key starts with prefix.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := tracing.StartSpan(ctx, "ObjectStore.List")
	defer span.End()

	var objects []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			tracing.RecordError(span, object.Err, "list failed")
			return nil, fmt.Errorf("failed to list %s/%s: %w", s.bucket, prefix, object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return objects, nil
}

// Put writes body under key.
func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error) {
	ctx, span := tracing.StartSpan(ctx, "ObjectStore.Put")
	defer span.End()

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		tracing.RecordError(span, err, "put failed")
		return ObjectInfo{}, fmt.Errorf("failed to put %s/%s: %w", s.bucket, key, err)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, LastModified: info.LastModified}, nil
}

// Get opens the object stored under key.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracing.StartSpan(ctx, "ObjectStore.Get")
	defer span.End()

	// GetObject is lazy; Stat surfaces a missing key before the caller starts reading.
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		tracing.RecordError(span, err, "get failed")
		return nil, fmt.Errorf("failed to get %s/%s: %w", s.bucket, key, err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s/%s: %w", s.bucket, key, ErrObjectNotFound)
		}
		tracing.RecordError(span, err, "stat failed")
		return nil, fmt.Errorf("failed to stat %s/%s: %w", s.bucket, key, err)
	}
	return object, nil
}

// Remove deletes the object stored under key.
func (s *MinioStore) Remove(ctx context.Context, key string) error {
	ctx, span := tracing.StartSpan(ctx, "ObjectStore.Remove")
	defer span.End()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		tracing.RecordError(span, err, "remove failed")
		return fmt.Errorf("failed to remove %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}
