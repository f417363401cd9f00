package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeSessionNotFound, "no session with that id"),
			expected: "session.not_found: no session with that id",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeTransportDecodeFailed, "bad length prefix", errors.New("frame of 0 bytes")),
			expected: "transport.decode_failed: bad length prefix (frame of 0 bytes)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}

	err2 := New(CodeSessionExpired, "expired")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "CodedError",
			err:      New(CodeSessionExpired, "expired"),
			expected: CodeSessionExpired,
		},
		{
			name:     "CodedError nested in fmt wrapping",
			err:      fmt.Errorf("dispatch: %w", New(CodeRequestTimeout, "deadline elapsed")),
			expected: CodeRequestTimeout,
		},
		{
			name:     "plain error",
			err:      errors.New("something broke"),
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(New(CodeHostDisconnected, "bridge connection lost"))
	if code != CodeHostDisconnected {
		t.Errorf("code = %q, want %q", code, CodeHostDisconnected)
	}
	if msg != "bridge connection lost" {
		t.Errorf("message = %q, want %q", msg, "bridge connection lost")
	}

	code, msg = ToCodeAndMessage(errors.New("raw"))
	if code != CodeUnknown {
		t.Errorf("code = %q, want %q", code, CodeUnknown)
	}
	if msg != "raw" {
		t.Errorf("message = %q, want %q", msg, "raw")
	}

	code, msg = ToCodeAndMessage(nil)
	if code != "" || msg != "" {
		t.Errorf("nil error should yield empty code and message, got %q/%q", code, msg)
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodeRequestCancelled, "session closed")
	if !HasCode(err, CodeRequestCancelled) {
		t.Error("HasCode should match the error's own code")
	}
	if HasCode(err, CodeRequestTimeout) {
		t.Error("HasCode should not match a different code")
	}
}
