package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clipforge/clipforge/internal/config"
)

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg config.MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Save(ctx context.Context, objectPath string, data []byte) (string, error) {
	objectPath = strings.TrimPrefix(objectPath, "/")

	_, err := s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeFor(objectPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, objectPath), nil
}

func (s *MinioStore) List(ctx context.Context, dir string) ([]string, error) {
	prefix := strings.TrimPrefix(dir, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, obj.Err)
		}
		names = append(names, path.Base(obj.Key))
	}
	return names, nil
}

func (s *MinioStore) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	objectPath = strings.TrimPrefix(objectPath, "/")

	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", objectPath, err)
	}
	return obj, nil
}

// Asset names carry no extension; the kind suffix is the only type hint.
func contentTypeFor(objectPath string) string {
	switch {
	case strings.HasSuffix(objectPath, "_thumbnail"), strings.HasSuffix(objectPath, "_filmstrip"):
		return "image/png"
	default:
		return "video/mp4"
	}
}
