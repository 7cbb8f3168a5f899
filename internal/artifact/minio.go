package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"storyloom/internal/config"
)

// MinioSigner mints signed URLs against a MinIO or S3-compatible endpoint.
type MinioSigner struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewMinioSigner builds a signer from the artifacts configuration.
func NewMinioSigner(cfg config.Artifacts) (*MinioSigner, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact signer: %w", err)
	}
	return NewMinioSignerWithClient(client, cfg.Bucket, time.Duration(cfg.PresignTTLSeconds)*time.Second)
}

// NewMinioSignerWithClient wraps an existing client, for tests and callers
// that manage their own transport.
func NewMinioSignerWithClient(client *minio.Client, bucket string, ttl time.Duration) (*MinioSigner, error) {
	if client == nil {
		return nil, fmt.Errorf("artifact signer: minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("artifact signer: bucket is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MinioSigner{client: client, bucket: bucket, ttl: ttl}, nil
}

// PresignGet mints a signed download URL for an artifact key.
func (s *MinioSigner) PresignGet(ctx context.Context, key string) (SignedURL, error) {
	if key == "" {
		return SignedURL{}, fmt.Errorf("artifact signer: key is required")
	}
	expiresAt := time.Now().Add(s.ttl)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, nil)
	if err != nil {
		return SignedURL{}, fmt.Errorf("artifact signer: presign %s: %w", key, err)
	}
	return SignedURL{URL: u.String(), ExpiresAt: expiresAt}, nil
}

// EnsureBucket creates the artifact bucket when it does not exist yet.
func (s *MinioSigner) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifact signer: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("artifact signer: make bucket: %w", err)
	}
	return nil
}
