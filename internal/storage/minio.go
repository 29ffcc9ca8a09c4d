package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/invoiceai/invoice-pipeline-service/internal/config"
)

// ObjectStore wraps the MinIO client for invoice object storage.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// New creates the MinIO client and verifies the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads an object under the given key.
func (o *ObjectStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := o.client.PutObject(ctx, o.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// Fetch downloads the whole object. Transient failures retry with
// exponential backoff for up to 30 seconds.
func (o *ObjectStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte

	operation := func() error {
		obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, obj); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	return data, nil
}

// PresignedURL generates a time-limited download URL for an object.
func (o *ObjectStore) PresignedURL(ctx context.Context, key string) (string, error) {
	url, err := o.client.PresignedGetObject(ctx, o.bucket, key, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Delete removes an object.
func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	return o.client.RemoveObject(ctx, o.bucket, key, minio.RemoveObjectOptions{})
}

// ObjectKey builds the storage key for a new upload:
// {accountID}/YYYY/MM/{documentID}{ext}
func ObjectKey(accountID, documentID string, contentType string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%02d/%s%s",
		accountID, now.Year(), now.Month(), documentID, FileExtension(contentType))
}

// FileExtension maps a content type to a storage file extension.
func FileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
