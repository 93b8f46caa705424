package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestSyncErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *SyncError
		want []string
	}{
		{
			name: "with component and code",
			err:  NewNetworkError(OpPush, fmt.Errorf("connection refused")),
			want: []string{"push operation failed", "remote", "NETWORK_FAILURE", "connection refused"},
		},
		{
			name: "without component",
			err:  New(OpMerge, fmt.Errorf("boom")),
			want: []string{"merge operation failed", "boom"},
		},
		{
			name: "validation",
			err:  NewValidationError(OpImport, fmt.Errorf("unexpected end of JSON input")),
			want: []string{"import operation failed", "VALIDATION_FAILURE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want substring %q", msg, want)
				}
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewStorageError(OpStore, "localstore", cause)

	if !stdErrors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewNetworkError(OpPull, fmt.Errorf("timeout"))) {
		t.Error("network errors should be retryable")
	}
	if IsRetryable(NewValidationError(OpImport, fmt.Errorf("bad json"))) {
		t.Error("validation errors should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors should not be retryable")
	}

	// Wrapped SyncError is still recognized.
	wrapped := fmt.Errorf("outer: %w", NewStorageError(OpLoad, "localstore", fmt.Errorf("disk")))
	if !IsRetryable(wrapped) {
		t.Error("wrapped storage errors should be retryable")
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(NewValidationError(OpImport, fmt.Errorf("bad json"))) {
		t.Error("expected validation error to be detected")
	}
	if IsValidation(NewNetworkError(OpPush, fmt.Errorf("down"))) {
		t.Error("network error misclassified as validation")
	}
}
