// Package storage archives finished clips to object storage and indexes
// them in Postgres.
package storage

import (
	"context"
	"mime"
	"path/filepath"
)

// ObjectStore is the subset of object storage the archive needs.
type ObjectStore interface {
	PutFile(ctx context.Context, key, filePath string, opts ...PutOption) error
	HealthCheck(ctx context.Context) error
}

// PutOption configures uploads.
type PutOption func(*putOptions)

type putOptions struct {
	ContentType string
	Metadata    map[string]string
}

// WithMetadata attaches user metadata to the object.
func WithMetadata(md map[string]string) PutOption {
	return func(o *putOptions) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}

// StorageError represents a storage operation error
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func detectContentType(path string) string {
	switch ext := filepath.Ext(path); ext {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
