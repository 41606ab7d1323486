package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/clipforge/clipforge/internal/config"
)

// Store persists downloaded artifacts. Paths use forward slashes with the
// batch id as the leading directory, e.g. "summer-launch/job-123_V2_thumbnail".
type Store interface {
	Save(ctx context.Context, path string, data []byte) (string, error)
	List(ctx context.Context, dir string) ([]string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.BasePath)
	case "minio":
		return NewMinioStore(cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
