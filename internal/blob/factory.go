package blob

import (
	"context"
	"fmt"

	"verhist/internal/config"
	"verhist/internal/history"
)

// NewBlobStoreFromConfig creates a BlobStore based on the storage config type,
// wrapped for compression when one is configured.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.StorageConfig) (history.BlobStore, error) {
	var store history.BlobStore
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore()
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem storage requires fs_root to be set")
		}
		fsStore, err := NewFileSystemStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		store = fsStore
	case "s3":
		s3Store, err := NewS3StoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = s3Store
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}

	if cfg.Compression == "" {
		return store, nil
	}
	return NewCompressedStore(store, cfg.Compression)
}
