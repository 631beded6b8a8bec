package artifacts

import (
	"context"
	"fmt"
)

// Kind selects an export backend.
type Kind string

const (
	KindFS  Kind = "fs"
	KindS3  Kind = "s3"
	KindGCS Kind = "gcs"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// Config selects and configures the export backend.
type Config struct {
	Kind Kind
	Dir  string
	S3   S3Config
	GCS  GCSConfig
}

// NewStore builds the backend named by cfg.Kind. An empty kind means "fs".
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/exports"
		}
		return NewFileStore(dir)
	case KindS3:
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
		return NewS3Store(ctx, cfg.S3)
	case KindGCS:
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported export store type: %s", cfg.Kind)
	}
}
