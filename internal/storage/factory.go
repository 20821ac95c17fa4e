package storage

import (
	"fmt"

	"github.com/benchops/agent/internal/config"
)

func New(cfg config.OffsiteConfig) (Storage, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalPath == "" {
			return nil, fmt.Errorf("offsite local_path is required")
		}
		return NewLocal(cfg.LocalPath), nil
	case "s3", "":
		if cfg.Endpoint == "" || cfg.Bucket == "" {
			return nil, fmt.Errorf("offsite endpoint and bucket are required")
		}
		return NewS3(cfg.Endpoint, cfg.Region, cfg.Bucket, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL, cfg.PathStyle)
	default:
		return nil, fmt.Errorf("unsupported offsite backend: %s", cfg.Backend)
	}
}
