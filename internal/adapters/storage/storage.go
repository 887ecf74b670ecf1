// Package storage provides object storage adapters. Every adapter serves
// GeoPackages to the registry and arbitrary objects, such as pre-rendered
// tiles, to tile generation jobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
	"github.com/jobrunner/geopack/internal/tilegen"
)

var (
	_ output.ObjectStorage = (*LocalStorage)(nil)
	_ output.ObjectStorage = (*S3Storage)(nil)
	_ output.ObjectStorage = (*AzureStorage)(nil)
	_ output.ObjectStorage = (*HTTPStorage)(nil)
	_ tilegen.ObjectReader = (*LocalStorage)(nil)
)

const packageExt = ".gpkg"

// isPackageKey reports whether key names a GeoPackage.
func isPackageKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), packageExt)
}

// relativeKey strips the configured prefix from a listed key.
func relativeKey(key, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

// joinKey prepends prefix to key.
func joinKey(prefix, key string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// storageErr wraps err for operation op on key. notFound marks errors the
// backend reports for missing objects.
func storageErr(op, key string, err error, notFound bool) error {
	if notFound {
		err = fmt.Errorf("%w: %v", domain.ErrObjectNotFound, err)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}

// writeFile streams r into dest through a temporary file in the same
// directory, so a package is never opened half written.
func writeFile(dest string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// download is the shared Download implementation of the remote adapters.
func download(ctx context.Context, s interface {
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
}, key, dest string) error {
	rc, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err := writeFile(dest, rc); err != nil {
		var se *domain.StorageError
		if errors.As(err, &se) {
			return err
		}
		return storageErr("download", key, err, false)
	}
	return nil
}
