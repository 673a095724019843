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
			err:      New(CodeSessionAlreadyRunning, "server already running"),
			expected: "session.already_running: server already running",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeTransportBindFailed, "failed to bind port 8765", errors.New("address already in use")),
			expected: "transport.bind_failed: failed to bind port 8765 (address already in use)",
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
	err := Wrap(CodeTransportFatal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	err2 := New(CodeRPCInvalidRequest, "bad body")
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
		{"nil error", nil, ""},
		{"CodedError", BindFailed(8765, errors.New("in use")), CodeTransportBindFailed},
		{"fmt wrapped CodedError", fmt.Errorf("start: %w", TransportFatal(nil)), CodeTransportFatal},
		{"plain error", errors.New("some error"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := AlreadyRunning(8765)
	if !IsCode(err, CodeSessionAlreadyRunning) {
		t.Error("IsCode should match session.already_running")
	}
	if IsCode(err, CodeTransportBindFailed) {
		t.Error("IsCode should not match a different code")
	}
}
