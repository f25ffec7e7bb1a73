// Package cli provides shared configuration and utilities for the strata CLI.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/schema"
)

// Process exit codes.
const (
	ExitSuccess   = 0
	ExitGeneral   = 1
	ExitConfig    = 2
	ExitCatalog   = 3
	ExitDBConnect = 4
	ExitPending   = 5
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitGeneral)
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// CatalogError creates an ExitError with ExitCatalog code.
func CatalogError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitCatalog, Message: msg, Err: err}
}

// DBConnectError creates an ExitError with ExitDBConnect code.
func DBConnectError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitDBConnect, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}

// Classify maps an engine or catalog error to an ExitError: catalog and
// metadata problems exit with ExitCatalog, everything else with ExitGeneral.
func Classify(msg string, err error) *ExitError {
	switch {
	case errors.Is(err, schema.ErrInvalidCatalog), schema.IsNotFoundErr(err),
		apperr.HasCode(err, apperr.CodeMetadataNotFound), apperr.HasCode(err, apperr.CodeValidation):
		return CatalogError(msg, err)
	}
	return GeneralError(msg, err)
}
