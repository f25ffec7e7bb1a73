package strata_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pthm/strata"
)

func TestErrorHelpers(t *testing.T) {
	t.Run("IsMissingTableErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", strata.ErrMissingTable)
		if !strata.IsMissingTableErr(err) {
			t.Error("IsMissingTableErr should return true for wrapped ErrMissingTable")
		}
		if strata.IsMissingTableErr(errors.New("other error")) {
			t.Error("IsMissingTableErr should return false for other errors")
		}
	})

	t.Run("IsObjectNotFoundErr", func(t *testing.T) {
		err := &strata.Error{Code: strata.CodeNotFound, Err: strata.ErrObjectNotFound}
		if !strata.IsObjectNotFoundErr(err) {
			t.Error("IsObjectNotFoundErr should return true for wrapped ErrObjectNotFound")
		}
		if strata.IsObjectNotFoundErr(&strata.Error{Code: strata.CodeNotFound}) {
			t.Error("IsObjectNotFoundErr should only match the sentinel")
		}
	})

	codes := []struct {
		name string
		code strata.Code
		fn   func(error) bool
	}{
		{"IsMetadataNotFoundErr", strata.CodeMetadataNotFound, strata.IsMetadataNotFoundErr},
		{"IsAuthorizationDeniedErr", strata.CodeAuthorizationDenied, strata.IsAuthorizationDeniedErr},
		{"IsDecodeFailureErr", strata.CodeDecodeFailure, strata.IsDecodeFailureErr},
		{"IsValidationErr", strata.CodeValidation, strata.IsValidationErr},
		{"IsUniqueViolationErr", strata.CodeUniqueViolation, strata.IsUniqueViolationErr},
		{"IsConflictErr", strata.CodeConflict, strata.IsConflictErr},
		{"IsLockTimeoutErr", strata.CodeLockTimeout, strata.IsLockTimeoutErr},
	}
	for _, tt := range codes {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &strata.Error{Code: tt.code, Err: errors.New("boom")})
			if !tt.fn(err) {
				t.Errorf("%s should return true for code %s", tt.name, tt.code)
			}
			if tt.fn(&strata.Error{Code: strata.CodeUnknown}) {
				t.Errorf("%s should return false for other codes", tt.name)
			}
			if tt.fn(nil) {
				t.Errorf("%s should return false for nil", tt.name)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := strata.CodeOf(errors.New("plain")); got != strata.CodeUnknown {
		t.Errorf("CodeOf(plain) = %s, want unknown", got)
	}
	err := fmt.Errorf("outer: %w", &strata.Error{Code: strata.CodeCluster})
	if got := strata.CodeOf(err); got != strata.CodeCluster {
		t.Errorf("CodeOf = %s, want cluster", got)
	}
	if !errors.Is(err, &strata.Error{Code: strata.CodeCluster}) {
		t.Error("errors.Is should match by code")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *strata.Error
		want string
	}{
		{
			&strata.Error{Code: strata.CodeValidation, Err: errors.New("bad")},
			"strata: validation: bad",
		},
		{
			&strata.Error{Code: strata.CodeAuthorizationDenied, Op: "save", Type: "INVOICE", Principal: "bob", Err: errors.New("write required")},
			"strata: save: authorization_denied [type=INVOICE] [principal=bob]: write required",
		},
		{
			&strata.Error{Code: strata.Code(99)},
			"strata: code(99)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{strata.ErrMissingTable, "strata: table not found"},
		{strata.ErrMissingSequence, "strata: sequence not initialized"},
		{strata.ErrObjectNotFound, "strata: object not found"},
		{strata.ErrNoPrincipal, "strata: no principal in context"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.wantMsg)
			}
		})
	}
}
