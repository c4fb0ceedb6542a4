package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/wizzat/s3repo/pkg/config"
	"github.com/wizzat/s3repo/pkg/log"
)

const (
	maxRetries      = 5
	initialInterval = 250 * time.Millisecond
	maxInterval     = 10 * time.Second
)

// s3Client is the subset of minio.Client the store uses.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucket, key, filePath string, opts minio.GetObjectOptions) error
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// S3 talks to an S3-compatible object store through minio-go. Transient
// failures (timeouts, 5xx) are retried with bounded exponential backoff;
// 4xx responses are permanent.
type S3 struct {
	client s3Client
	logger zerolog.Logger
}

// NewS3 builds the store from the configured endpoint and credentials.
func NewS3(cfg *config.Config) (*S3, error) {
	secure := true
	if cfg.S3UseSSL != nil {
		secure = *cfg.S3UseSSL
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3{
		client: client,
		logger: log.WithComponent("objstore"),
	}, nil
}

func (s *S3) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(), maxRetries),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Str("op", op).Dur("retry_in", wait).Msg("transient object store failure")
	})
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	return b
}

// permanent reports whether an S3 error should not be retried: client-side
// mistakes (4xx) and cancellations, as opposed to throttling and 5xx.
func permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		// Network-level failure, worth retrying.
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return resp.StatusCode < http.StatusInternalServerError
}

func (s *S3) PutFile(ctx context.Context, bucket, key, localPath string) error {
	err := s.retry(ctx, "put", func() error {
		_, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
			ContentType:    "application/octet-stream",
			SendContentMd5: true,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3) GetFile(ctx context.Context, bucket, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	err := s.retry(ctx, "get", func() error {
		return s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	err := s.retry(ctx, "delete", func() error {
		return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
