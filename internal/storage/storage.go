// Package storage provides byte-addressable artifact sinks keyed by path.
// Every implementation overwrites atomically: a reader sees either the old
// blob or the new one, never a partial write.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists for the key.
var ErrNotFound = errors.New("blob not found")

// BlobStore stores opaque blobs under string keys.
type BlobStore interface {
	// Put writes data under key, replacing any existing blob atomically.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
