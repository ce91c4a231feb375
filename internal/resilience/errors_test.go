package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", NewTransientError(errors.New("flaky")), true},
		{"deeply wrapped transient", fmt.Errorf("outer: %w", NewTransientError(errors.New("inner"))), true},
		{"permanent", NewPermanentError(errors.New("gone")), false},
		{"permanent wrapping timeout text", NewPermanentError(errors.New("validation timeout exceeded")), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("something broke"), false},
		{"stale element pattern", errors.New("stale element reference"), true},
		{"timeout pattern", errors.New("operation timeout"), true},
		{"connection reset pattern", errors.New("read: connection reset by peer"), true},
		{"canceled context", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(NewPermanentError(errors.New("gone"))) {
		t.Error("expected permanent")
	}
	if IsPermanent(NewTransientError(errors.New("flaky"))) {
		t.Error("transient should not be permanent")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error should not be permanent")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(NewTransientError(errors.New("x"))); got != "transient" {
		t.Errorf("expected transient, got %s", got)
	}
	if got := Classify(errors.New("x")); got != "permanent" {
		t.Errorf("expected permanent, got %s", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner)
	if !errors.Is(te, inner) {
		t.Error("transient error should unwrap to inner")
	}
	pe := NewPermanentError(inner)
	if !errors.Is(pe, inner) {
		t.Error("permanent error should unwrap to inner")
	}
}
