// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/jobrunner/geopack/internal/tilegen"
)

// ObjectStorage is where packages and pre-rendered tiles live. Keys are
// slash separated and relative to the configured prefix.
type ObjectStorage interface {
	// List returns the GeoPackage objects of the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download copies an object to a local path, replacing the file
	// atomically.
	Download(ctx context.Context, key string, dest string) error

	// GetReader and Exists serve storage tile sources.
	tilegen.ObjectReader
}

// StorageObject describes one listed object.
type StorageObject struct {
	Key          string
	Size         int64
	LastModified int64 // Unix seconds, 0 when the backend does not report it
	ETag         string
}

// StorageType names a storage backend in the configuration.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
