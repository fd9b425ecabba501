package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"veritrust/pkg/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageService wraps the S3-compatible object store holding document blobs.
// The core never persists raw bytes itself; it only hands out storage keys.
type StorageService struct {
	client *minio.Client
	bucket string
	cfg    config.StorageConfig
	logger *zap.Logger
}

func NewStorageService(cfg *config.StorageConfig, logger *zap.Logger) (*StorageService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &StorageService{
		client: client,
		bucket: cfg.Bucket,
		cfg:    *cfg,
		logger: logger,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *StorageService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info("Storage bucket created", zap.String("bucket", s.bucket))
	}

	return nil
}

// Upload stores a document blob under a per-user key and returns the key.
func (s *StorageService) Upload(ctx context.Context, userID uuid.UUID, fileName string, reader io.Reader, size int64, contentType string) (string, error) {
	ext := filepath.Ext(fileName)
	key := fmt.Sprintf("users/%s/documents/%s%s", userID, uuid.New(), ext)

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-filename": fileName,
			"uploaded-by":       userID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return key, nil
}

// Get opens the stored blob for reading.
func (s *StorageService) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// GetBytes reads the whole stored blob into memory, for analyzers that need
// the full content (OCR, vision upload).
func (s *StorageService) GetBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// PresignedURL generates a temporary GET URL for a stored blob.
func (s *StorageService) PresignedURL(ctx context.Context, key string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.cfg.URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// URLExpiry reports how long presigned URLs stay valid.
func (s *StorageService) URLExpiry() time.Duration {
	return s.cfg.URLExpiry
}

// Delete removes a stored blob.
func (s *StorageService) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
