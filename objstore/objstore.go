// Package objstore is the pipeline's view of the platform object store.
//
// The exporter reads a per-customer staging prefix (read-only) and writes
// finished archives under an exports prefix (write-only); nothing else in
// the pipeline touches the store. Store is the narrow interface both sides
// consume, and MinioStore is the production implementation.
package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PresignExpiry is how long an export retrieval URL stays valid.
const PresignExpiry = 7 * 24 * time.Hour

// Store is the object-store surface the pipeline depends on.
type Store interface {
	// ListStaging returns the object keys under the customer's staging
	// prefix, relative to that prefix.
	ListStaging(ctx context.Context, customerID string) ([]string, error)
	// FetchStaging opens one staging object for reading.
	FetchStaging(ctx context.Context, customerID, key string) (io.ReadCloser, error)
	// UploadExport stores the archive under the exports prefix and returns
	// its object key.
	UploadExport(ctx context.Context, customerID, archivePath, archiveName string) (string, error)
	// PresignURL returns a time-limited retrieval URL for an uploaded object.
	PresignURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Config holds the minio connection settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MinioStore implements Store against a minio (or any S3-compatible)
// endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the configured endpoint.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: connect %s: %w", cfg.Endpoint, err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func stagingPrefix(customerID string) string { return "staging/" + customerID + "/" }

// ListStaging lists keys under staging/<customer>/, relative to the prefix.
func (s *MinioStore) ListStaging(ctx context.Context, customerID string) ([]string, error) {
	prefix := stagingPrefix(customerID)
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objstore: list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key[len(prefix):])
	}
	return keys, nil
}

// FetchStaging opens staging/<customer>/<key> for reading.
func (s *MinioStore) FetchStaging(ctx context.Context, customerID, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, stagingPrefix(customerID)+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objstore: fetch %s: %w", key, err)
	}
	return obj, nil
}

// UploadExport stores the archive at exports/<customer>/<archiveName>.
func (s *MinioStore) UploadExport(ctx context.Context, customerID, archivePath, archiveName string) (string, error) {
	key := "exports/" + customerID + "/" + archiveName
	_, err := s.client.FPutObject(ctx, s.bucket, key, archivePath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return "", fmt.Errorf("objstore: upload %s: %w", key, err)
	}
	return key, nil
}

// PresignURL returns a presigned GET URL for objectKey.
func (s *MinioStore) PresignURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("objstore: presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}
