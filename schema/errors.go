package schema

import "errors"

// ErrNotFound is returned when a type, field or link is not in the catalog.
var ErrNotFound = errors.New("strata/schema: metadata not found")

// ErrInvalidCatalog is returned when a catalog fails validation.
var ErrInvalidCatalog = errors.New("strata/schema: invalid catalog")

// ErrValueMismatch is returned when a value does not fit its field descriptor.
var ErrValueMismatch = errors.New("strata/schema: value does not match field")

// IsNotFoundErr returns true if err is or wraps ErrNotFound.
func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidCatalogErr returns true if err is or wraps ErrInvalidCatalog.
func IsInvalidCatalogErr(err error) bool {
	return errors.Is(err, ErrInvalidCatalog)
}
