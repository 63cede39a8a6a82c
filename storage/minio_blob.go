package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"listingwatch/models"
)

// MinioConfig holds the connection settings for S3-compatible blob storage.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBlobStore archives image bytes in a MinIO/S3 bucket.
type MinioBlobStore struct {
	client *miniogo.Client
	bucket string
}

// NewMinioBlobStore creates the client and makes sure the bucket exists.
func NewMinioBlobStore(ctx context.Context, cfg MinioConfig) (*MinioBlobStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio: endpoint and bucket are required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioBlobStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads body to path. An object already stored at path is never
// replaced; models.ErrObjectExists is returned instead.
func (s *MinioBlobStore) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.StatObject(ctx, s.bucket, path, miniogo.StatObjectOptions{})
	switch {
	case err == nil:
		return models.ErrObjectExists
	case miniogo.ToErrorResponse(err).Code != "NoSuchKey":
		return fmt.Errorf("minio: stat %s: %w", path, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, path, body, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("minio: upload %s: %w", path, err)
	}
	return nil
}

func (s *MinioBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list %s: %w", prefix, obj.Err)
		}
		paths = append(paths, obj.Key)
	}
	sort.Strings(paths)
	return paths, nil
}
