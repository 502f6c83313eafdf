// Package uploader ships archived model directories to external storage.
package uploader

import (
	"context"

	"kuroko/internal/config"
)

// Uploader pushes a local directory of artifacts to a storage backend. The
// backend is chosen once at construction; callers never inspect the concrete
// type.
type Uploader interface {
	Enabled() bool
	UploadDir(ctx context.Context, dir string) (string, error)
}

// NoopUploader is the disabled backend.
type NoopUploader struct{}

// Enabled reports false.
func (NoopUploader) Enabled() bool { return false }

// UploadDir does nothing.
func (NoopUploader) UploadDir(ctx context.Context, dir string) (string, error) {
	return "", nil
}

// New selects an uploader backend from storage configuration. S3 wins when
// both backends are enabled. Construction failures fall back to the noop
// backend so a misconfigured bucket never blocks serving.
func New(cfg config.StorageConfig) Uploader {
	if cfg.S3.Enabled {
		up, err := NewS3(cfg.S3)
		if err == nil {
			return up
		}
	}
	if cfg.GCS.Enabled {
		up, err := NewGCS(cfg.GCS)
		if err == nil {
			return up
		}
	}
	return NoopUploader{}
}
