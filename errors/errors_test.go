package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid config", ErrInvalidConfig, false},
		{"adapter dead", ErrAdapterDead, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"refused in message", fmt.Errorf("dial tcp: connection refused"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"adapter dead", ErrAdapterDead, true},
		{"permission denied", ErrPermissionDenied, true},
		{"address in use", ErrAddressInUse, true},
		{"bind message", fmt.Errorf("listen udp :514: address already in use"), true},
		{"disk message", fmt.Errorf("write: no space left on device"), true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults to transient", nil, ErrorTransient},
		{"timeout is transient", ErrConnectionTimeout, ErrorTransient},
		{"adapter dead is fatal", ErrAdapterDead, ErrorFatal},
		{"invalid config is invalid", ErrInvalidConfig, ErrorInvalid},
		{"unknown defaults to transient", fmt.Errorf("mystery"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := ErrAddressInUse
	wrapped := Wrap(base, "udp-source", "Open", "socket bind")

	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, ErrAddressInUse) {
		t.Error("wrapped error should match the sentinel via errors.Is")
	}
	expected := "udp-source.Open: socket bind failed: address in use"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, "c", "m", "a") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapTransient(nil, "c", "m", "a") != nil {
		t.Error("WrapTransient(nil) should return nil")
	}
	if WrapFatal(nil, "c", "m", "a") != nil {
		t.Error("WrapFatal(nil) should return nil")
	}
	if WrapInvalid(nil, "c", "m", "a") != nil {
		t.Error("WrapInvalid(nil) should return nil")
	}
}

func TestWrapClassification(t *testing.T) {
	base := fmt.Errorf("boom")

	if !IsTransient(WrapTransient(base, "c", "m", "a")) {
		t.Error("WrapTransient should classify as transient")
	}
	if !IsFatal(WrapFatal(base, "c", "m", "a")) {
		t.Error("WrapFatal should classify as fatal")
	}
	if !IsInvalid(WrapInvalid(base, "c", "m", "a")) {
		t.Error("WrapInvalid should classify as invalid")
	}

	// Classification survives another layer of plain wrapping
	doubly := fmt.Errorf("outer: %w", WrapFatal(base, "c", "m", "a"))
	if !IsFatal(doubly) {
		t.Error("classification should be visible through wrapping chains")
	}

	var ce *ClassifiedError
	if !errors.As(doubly, &ce) {
		t.Fatal("errors.As should find the ClassifiedError")
	}
	if ce.Component != "c" || ce.Operation != "m" {
		t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
	}
}
