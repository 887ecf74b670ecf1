package domain

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "longitude",
		Value:      200.0,
		Constraint: "[-180, 180]",
		Message:    "longitude must be between -180 and 180",
	}

	if got := err.Error(); got == "" {
		t.Error("Error() should not return empty string")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("disk I/O error")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "malformed geometry without cause",
			err:  &MalformedGeometryError{Offset: 4, Reason: "truncated"},
			want: ErrInvalidInput,
		},
		{
			name: "malformed geometry with cause",
			err:  &MalformedGeometryError{Offset: 4, Reason: "truncated", Err: cause},
			want: cause,
		},
		{
			name: "invalid coverage parameters",
			err:  &InvalidCoverageParametersError{Field: "scale", Value: 0.0, Reason: "must not be zero"},
			want: ErrInvalidInput,
		},
		{
			name: "not indexed",
			err:  &NotIndexedError{Table: "roads"},
			want: ErrNotIndexed,
		},
		{
			name: "not indexed is unavailable",
			err:  &NotIndexedError{Table: "roads"},
			want: ErrUnavailable,
		},
		{
			name: "store error",
			err:  &StoreError{Op: "insert", Table: "roads", Err: cause},
			want: cause,
		},
		{
			name: "projection unsupported",
			err:  &ProjectionError{From: 4326, To: 2056},
			want: ErrUnsupportedProjection,
		},
		{
			name: "projection failed",
			err:  &ProjectionError{From: 4326, To: 2056, Err: cause},
			want: cause,
		},
		{
			name: "query error",
			err:  &QueryError{PackageID: "pkg", Table: "roads", Err: ErrTableNotFound},
			want: ErrNotFound,
		},
		{
			name: "storage error",
			err:  &StorageError{Operation: "download", Key: "a.gpkg", Err: ErrObjectNotFound},
			want: ErrNotFound,
		},
		{
			name: "index error",
			err:  &IndexError{PackageID: "pkg", Table: "roads", Err: cause},
			want: cause,
		},
		{
			name: "config error",
			err:  &ConfigError{Field: "index.chunk_size", Message: "must be positive"},
			want: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.want)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	var err error = &QueryError{
		PackageID: "pkg",
		Err:       &NotIndexedError{Table: "roads"},
	}

	var nie *NotIndexedError
	if !errors.As(err, &nie) {
		t.Fatal("expected NotIndexedError in chain")
	}
	if nie.Table != "roads" {
		t.Errorf("Table = %q, want roads", nie.Table)
	}
}

func TestSpecificErrors(t *testing.T) {
	tests := []struct {
		err  error
		base error
	}{
		{ErrPackageNotFound, ErrNotFound},
		{ErrTableNotFound, ErrNotFound},
		{ErrTileNotFound, ErrNotFound},
		{ErrObjectNotFound, ErrNotFound},
		{ErrInvalidBoundingBox, ErrInvalidInput},
		{ErrInvalidSRID, ErrInvalidInput},
		{ErrUnsupportedProjection, ErrUnsupported},
		{ErrUnsupportedGeometry, ErrUnsupported},
		{ErrNotIndexed, ErrUnavailable},
		{ErrIndexCreationFailed, ErrInternal},
		{ErrNotReady, ErrUnavailable},
		{ErrStorageUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if !errors.Is(tt.err, tt.base) {
				t.Errorf("%v should wrap %v", tt.err, tt.base)
			}
		})
	}
}
