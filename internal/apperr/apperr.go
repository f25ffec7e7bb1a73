// Package apperr defines the structured error surfaced by every public strata
// operation. The root package re-exports the type and its codes.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a machine-readable error classification.
type Code int

const (
	// CodeUnknown is used for errors that were not classified.
	CodeUnknown Code = iota
	// CodeMetadataNotFound means a type, field or link descriptor is missing.
	// Fatal for the operation; retrying cannot help.
	CodeMetadataNotFound
	// CodeSQLExecution wraps a driver error together with the failing statement.
	CodeSQLExecution
	// CodeAuthorizationDenied means the required access level was not met.
	CodeAuthorizationDenied
	// CodeDecodeFailure means a row value could not be converted to its field type.
	CodeDecodeFailure
	// CodeResourceRelease means closing a connection, statement or transaction failed.
	CodeResourceRelease
	// CodeValidation means an object does not conform to its type descriptor.
	CodeValidation
	// CodeUniqueViolation means a unique field constraint would be broken.
	CodeUniqueViolation
	// CodeLockTimeout means a named lock could not be acquired in time.
	CodeLockTimeout
	// CodeCluster means the cluster coordinator could not be reached.
	CodeCluster
	// CodeConflict means the object version being replaced is no longer current.
	CodeConflict
	// CodeNotFound means the requested object has no current version.
	CodeNotFound
)

var codeNames = map[Code]string{
	CodeUnknown:             "unknown",
	CodeMetadataNotFound:    "metadata_not_found",
	CodeSQLExecution:        "sql_execution",
	CodeAuthorizationDenied: "authorization_denied",
	CodeDecodeFailure:       "decode_failure",
	CodeResourceRelease:     "resource_release",
	CodeValidation:          "validation",
	CodeUniqueViolation:     "unique_violation",
	CodeLockTimeout:         "lock_timeout",
	CodeCluster:             "cluster",
	CodeConflict:            "conflict",
	CodeNotFound:            "not_found",
}

// String returns the snake_case name of the code.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error carries a code, the acting principal and the offending query or object.
type Error struct {
	Code      Code
	Op        string // operation, e.g. "getObjects", "save"
	Principal string // acting principal id, empty for system work
	Type      string // object type name where applicable
	Query     string // SQL text or object reference where applicable
	Err       error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("strata")
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Code.String())
	if e.Type != "" {
		sb.WriteString(" [type=")
		sb.WriteString(e.Type)
		sb.WriteString("]")
	}
	if e.Principal != "" {
		sb.WriteString(" [principal=")
		sb.WriteString(e.Principal)
		sb.WriteString("]")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so errors.Is(err, &Error{Code: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Err == nil
}

// New creates an error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a code to err. An err that already is an *Error keeps its code
// and only gains missing context.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Code: code, Err: err}
}

// WithOp sets the operation name if unset and returns e.
func (e *Error) WithOp(op string) *Error {
	if e.Op == "" {
		e.Op = op
	}
	return e
}

// WithPrincipal sets the principal if unset and returns e.
func (e *Error) WithPrincipal(principal string) *Error {
	if e.Principal == "" {
		e.Principal = principal
	}
	return e
}

// WithType sets the object type if unset and returns e.
func (e *Error) WithType(typ string) *Error {
	if e.Type == "" {
		e.Type = typ
	}
	return e
}

// WithQuery sets the query text if unset and returns e.
func (e *Error) WithQuery(q string) *Error {
	if e.Query == "" {
		e.Query = q
	}
	return e
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
