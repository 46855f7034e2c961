// Package storage defines the Storage interface for association logo files.
//
// Backends register themselves with the factory from an init() function in their
// own package, and cmd/server blank-imports each backend:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists at a path.
var ErrNotFound = errors.New("storage: object not found")

// Storage defines the interface for all storage backends
type Storage interface {
	// Upload stores an object and returns its path, size and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) (*UploadResult, error)

	// Delete removes an object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error

	// GetURL returns the public URL under which the object is served
	GetURL(ctx context.Context, path string) (string, error)

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path string
	Size int64
	// Checksum is the hex SHA-256 of the contents
	Checksum string
}
