package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
)

// LocalStorage implements ObjectStorage for local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all GeoPackage files below the base directory.
func (s *LocalStorage) List(_ context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPackageKey(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(relPath),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, storageErr("list", s.basePath, err, errors.Is(err, fs.ErrNotExist))
	}

	return objects, nil
}

// Download copies a file to dest. It does nothing when dest is the file
// itself, which is the usual case for local packages.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	srcPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if srcPath == filepath.Clean(dest) {
		return nil
	}

	src, err := os.Open(srcPath) //#nosec G304 -- resolve keeps keys below basePath
	if err != nil {
		return storageErr("download", key, err, errors.Is(err, fs.ErrNotExist))
	}
	defer func() { _ = src.Close() }()

	if err := writeFile(dest, src); err != nil {
		return storageErr("download", key, err, false)
	}
	return nil
}

// GetReader returns a reader for the given object.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //#nosec G304 -- resolve keeps keys below basePath
	if err != nil {
		return nil, storageErr("read", key, err, errors.Is(err, fs.ErrNotExist))
	}
	return f, nil
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageErr("stat", key, err, false)
	}
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, key)
}

// resolve maps a key to a path below basePath and rejects keys that
// escape it.
func (s *LocalStorage) resolve(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", &domain.ValidationError{Field: "key", Value: key, Message: "object key leaves the storage directory"}
	}
	return filepath.Join(s.basePath, rel), nil
}
