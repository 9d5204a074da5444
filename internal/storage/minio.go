package storage

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig contains MinIO configuration
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// MinIOMetrics tracks MinIO operations
type MinIOMetrics struct {
	TotalUploads atomic.Uint64
	UploadBytes  atomic.Uint64
	UploadErrors atomic.Uint64
}

func (m *MinIOMetrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"uploads":       m.TotalUploads.Load(),
		"upload_bytes":  m.UploadBytes.Load(),
		"upload_errors": m.UploadErrors.Load(),
	}
}

// MinIOStore implements ObjectStore using MinIO
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	config  MinIOConfig
	logger  *zap.Logger
	metrics MinIOMetrics
}

// NewMinIOStore connects to MinIO and creates the bucket when missing.
func NewMinIOStore(ctx context.Context, config MinIOConfig) (*MinIOStore, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client: client,
		bucket: config.Bucket,
		config: config,
		logger: zap.L().Named("minio-store"),
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		store.logger.Info("Created MinIO bucket", zap.String("bucket", config.Bucket))
	}

	return store, nil
}

func (s *MinIOStore) newBackoff(ctx context.Context) backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	if s.config.RetryBackoff > 0 {
		ebo.InitialInterval = s.config.RetryBackoff
	}
	ebo.Reset()
	var b backoff.BackOff = ebo
	if s.config.MaxRetries > 0 {
		b = backoff.WithMaxRetries(ebo, uint64(s.config.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// PutFile uploads a local file, retrying transient failures.
func (s *MinIOStore) PutFile(ctx context.Context, key, filePath string, opts ...PutOption) error {
	options := &putOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.ContentType == "" {
		options.ContentType = detectContentType(filePath)
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  options.ContentType,
		UserMetadata: options.Metadata,
	}

	op := func() error {
		info, err := s.client.FPutObject(ctx, s.bucket, key, filePath, putOpts)
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(err)
			}
			s.metrics.UploadErrors.Add(1)
			return err
		}

		s.metrics.TotalUploads.Add(1)
		s.metrics.UploadBytes.Add(uint64(info.Size))
		s.logger.Debug("Object uploaded",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, s.newBackoff(ctx)); err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err}
	}
	return nil
}

func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	if !exists {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("bucket %s does not exist", s.bucket)}
	}
	return nil
}

func (s *MinIOStore) Metrics() *MinIOMetrics {
	return &s.metrics
}
