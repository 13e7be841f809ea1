package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DocumentStore parks uploaded knowledge source files in MinIO/S3 so the
// source reference of a file item stays resolvable across deployments. The
// normalized text is what the engine indexes; the original is retention
// only, and storing it is best-effort.
type DocumentStore struct {
	client *minio.Client
	bucket string
}

// NewDocumentStoreFromEnv initialises the store from MINIO_* environment
// variables. Returns (nil, nil) when not configured: callers then keep the
// original filename as the source reference.
func NewDocumentStoreFromEnv() (*DocumentStore, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	return &DocumentStore{client: client, bucket: bucket}, nil
}

// Save stores the uploaded document under documents/<uuid>/<name> and
// returns the object path. A nil store returns "" without error.
func (s *DocumentStore) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", nil
	}
	if len(data) == 0 {
		return "", nil
	}

	cleaned := strings.Trim(path.Base(strings.ReplaceAll(name, "\\", "/")), "/")
	if cleaned == "" || cleaned == "." {
		cleaned = "document"
	}
	objectName := path.Join("documents", uuid.NewString(), cleaned)

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := s.client.PutObject(uploadCtx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload document: %w", err)
	}
	return objectName, nil
}

// Remove deletes a previously saved document object.
func (s *DocumentStore) Remove(ctx context.Context, objectName string) error {
	if s == nil || s.client == nil {
		return nil
	}
	trimmed := strings.TrimSpace(objectName)
	if trimmed == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, trimmed, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary download link for a stored document.
func (s *DocumentStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", nil
	}
	trimmed := strings.TrimSpace(objectName)
	if trimmed == "" {
		return "", nil
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	link, err := s.client.PresignedGetObject(presignCtx, s.bucket, trimmed, expiry, nil)
	if err != nil {
		return "", err
	}
	return link.String(), nil
}
