// Package storage provides S3-compatible object storage for audit artefacts
// such as raw inbound webhook payloads.
package storage

import (
	"context"
)

// StorageService defines the object storage operations the service uses.
type StorageService interface {
	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// PutObject stores data under key, replacing any existing object.
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
