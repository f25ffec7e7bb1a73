package strata

import (
	"errors"
	"fmt"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/conn"
	"github.com/pthm/strata/internal/lock"
	"github.com/pthm/strata/schema"
)

// Error is the structured error returned by every Engine operation.
type Error = apperr.Error

// Code classifies an Error.
type Code = apperr.Code

// Error codes.
const (
	CodeUnknown             = apperr.CodeUnknown
	CodeMetadataNotFound    = apperr.CodeMetadataNotFound
	CodeSQLExecution        = apperr.CodeSQLExecution
	CodeAuthorizationDenied = apperr.CodeAuthorizationDenied
	CodeDecodeFailure       = apperr.CodeDecodeFailure
	CodeResourceRelease     = apperr.CodeResourceRelease
	CodeValidation          = apperr.CodeValidation
	CodeUniqueViolation     = apperr.CodeUniqueViolation
	CodeLockTimeout         = apperr.CodeLockTimeout
	CodeCluster             = apperr.CodeCluster
	CodeConflict            = apperr.CodeConflict
	CodeNotFound            = apperr.CodeNotFound
)

// Sentinel errors for setup and lookup failures. They are wrapped in *Error
// and can be tested with errors.Is or the Is*Err helpers.
var (
	// ErrMissingTable is returned when a statement references a table that
	// does not exist. Run `strata migrate` to create the repo and system
	// tables.
	ErrMissingTable = errors.New("strata: table not found")

	// ErrMissingSequence is returned when a sequence row of strata_sequence is
	// absent. `strata migrate` seeds it.
	ErrMissingSequence = errors.New("strata: sequence not initialized")

	// ErrObjectNotFound is returned when a logical id has no current version.
	ErrObjectNotFound = errors.New("strata: object not found")

	// ErrNoPrincipal is returned by NewCoreContext when the context carries
	// no principal.
	ErrNoPrincipal = errors.New("strata: no principal in context")
)

// CodeOf returns the code of err, or CodeUnknown.
func CodeOf(err error) Code { return apperr.CodeOf(err) }

// IsMissingTableErr returns true if err is or wraps ErrMissingTable.
func IsMissingTableErr(err error) bool {
	return errors.Is(err, ErrMissingTable)
}

// IsObjectNotFoundErr returns true if err is or wraps ErrObjectNotFound.
func IsObjectNotFoundErr(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsMetadataNotFoundErr returns true if err carries CodeMetadataNotFound.
func IsMetadataNotFoundErr(err error) bool {
	return apperr.HasCode(err, CodeMetadataNotFound)
}

// IsAuthorizationDeniedErr returns true if err carries CodeAuthorizationDenied.
func IsAuthorizationDeniedErr(err error) bool {
	return apperr.HasCode(err, CodeAuthorizationDenied)
}

// IsDecodeFailureErr returns true if err carries CodeDecodeFailure.
func IsDecodeFailureErr(err error) bool {
	return apperr.HasCode(err, CodeDecodeFailure)
}

// IsValidationErr returns true if err carries CodeValidation.
func IsValidationErr(err error) bool {
	return apperr.HasCode(err, CodeValidation)
}

// IsUniqueViolationErr returns true if err carries CodeUniqueViolation.
func IsUniqueViolationErr(err error) bool {
	return apperr.HasCode(err, CodeUniqueViolation)
}

// IsConflictErr returns true if err carries CodeConflict.
func IsConflictErr(err error) bool {
	return apperr.HasCode(err, CodeConflict)
}

// IsLockTimeoutErr returns true if err carries CodeLockTimeout.
func IsLockTimeoutErr(err error) bool {
	return apperr.HasCode(err, CodeLockTimeout)
}

// opErr classifies err and attaches the operation and the Core's principal.
func (e *Engine) opErr(err error, op string, c *Core) error {
	if err == nil {
		return nil
	}
	ae := apperr.Wrap(classify(err), err).WithOp(op)
	if c != nil && !c.p.Bypass() {
		ae = ae.WithPrincipal(c.p.ID)
	}
	return ae
}

func classify(err error) Code {
	switch {
	case schema.IsNotFoundErr(err):
		return CodeMetadataNotFound
	case errors.Is(err, schema.ErrValueMismatch):
		return CodeValidation
	case conn.IsReleasedErr(err), errors.Is(err, conn.ErrClosed):
		return CodeResourceRelease
	case lock.IsTimeoutErr(err):
		return CodeLockTimeout
	case errors.Is(err, ErrObjectNotFound):
		return CodeNotFound
	}
	return CodeUnknown
}

// sqlErr wraps a driver error with the statement that failed. Missing tables
// are additionally marked with ErrMissingTable.
func sqlErr(query string, err error) *Error {
	if dialect.IsUndefinedTable(err) {
		err = fmt.Errorf("%w: %w", ErrMissingTable, err)
	}
	return apperr.Wrap(CodeSQLExecution, err).WithQuery(query)
}
