package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/me/mlledger/internal/config"
)

// Open returns the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		}, logger)
	case "file":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("file backend: endpoint (root directory) is required")
		}
		root := strings.TrimPrefix(cfg.Endpoint, "file://")
		return NewFileStore(filepath.Join(root, cfg.Bucket)), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q (want s3, file or memory)", cfg.Backend)
	}
}
