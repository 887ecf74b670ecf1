package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrPackageNotFound       = fmt.Errorf("geopackage: %w", ErrNotFound)
	ErrTableNotFound         = fmt.Errorf("table: %w", ErrNotFound)
	ErrTileNotFound          = fmt.Errorf("tile: %w", ErrNotFound)
	ErrObjectNotFound        = fmt.Errorf("object: %w", ErrNotFound)
	ErrInvalidBoundingBox    = fmt.Errorf("bounding box: %w", ErrInvalidInput)
	ErrInvalidSRID           = fmt.Errorf("srid: %w", ErrInvalidInput)
	ErrUnsupportedProjection = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrUnsupportedGeometry   = fmt.Errorf("geometry type: %w", ErrUnsupported)
	ErrNotIndexed            = fmt.Errorf("table not indexed: %w", ErrUnavailable)
	ErrIndexCreationFailed   = fmt.Errorf("index creation: %w", ErrInternal)
	ErrNotReady              = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable    = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// MalformedGeometryError is returned when a geometry blob cannot be decoded.
type MalformedGeometryError struct {
	Offset int    // Byte offset where decoding failed
	Reason string // What was wrong
	Err    error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *MalformedGeometryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed geometry at byte %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed geometry at byte %d: %s", e.Offset, e.Reason)
}

// Unwrap returns the underlying error.
func (e *MalformedGeometryError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// InvalidCoverageParametersError is returned for unusable coverage transforms
// or pixel buffers whose size does not match the data type.
type InvalidCoverageParametersError struct {
	Field  string
	Value  interface{}
	Reason string
}

// Error implements the error interface.
func (e *InvalidCoverageParametersError) Error() string {
	return fmt.Sprintf("invalid coverage parameter %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns the underlying error type.
func (e *InvalidCoverageParametersError) Unwrap() error {
	return ErrInvalidInput
}

// NotIndexedError is returned by incremental index operations on a table
// that has never completed a full index pass.
type NotIndexedError struct {
	Table string
}

// Error implements the error interface.
func (e *NotIndexedError) Error() string {
	return fmt.Sprintf("feature table %s is not indexed", e.Table)
}

// Unwrap returns the underlying error type.
func (e *NotIndexedError) Unwrap() error {
	return ErrNotIndexed
}

// StoreError wraps a failure of the relational store.
type StoreError struct {
	Op    string // Operation (query, insert, begin, commit, ...)
	Table string // Table involved (optional)
	Err   error  // Underlying driver error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("store error during %s on %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ProjectionError is returned for unsupported or failed coordinate transforms.
type ProjectionError struct {
	From int   // Source SRID
	To   int   // Target SRID
	Err  error // Underlying error (optional)
}

// Error implements the error interface.
func (e *ProjectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("projection from %d to %d: %v", e.From, e.To, e.Err)
	}
	return fmt.Sprintf("projection from %d to %d: unsupported", e.From, e.To)
}

// Unwrap returns the underlying error.
func (e *ProjectionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupportedProjection
}

// QueryError represents an error during a query operation.
type QueryError struct {
	PackageID string // GeoPackage identifier
	Table     string // Table name
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("query error in package %s, table %s: %v",
			e.PackageID, e.Table, e.Err)
	}
	return fmt.Sprintf("query error in package %s: %v", e.PackageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during object storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IndexError represents an error during spatial index operations.
type IndexError struct {
	PackageID string // GeoPackage identifier
	Table     string // Feature table name
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("index error for table %s in package %s: %v",
		e.Table, e.PackageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
