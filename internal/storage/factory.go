package storage

import (
	"fmt"

	"github.com/pixelpress/pixelpress/internal/config"
)

// New creates an ObjectStorage instance based on the configuration.
// Implementations are selected once at startup and never mixed at runtime.
func New(cfg *config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "s3", "":
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			PublicURL: cfg.PublicURL,
		})
	case "local":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
