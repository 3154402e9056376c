package mcperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestFatalToConnection(t *testing.T) {
	fatal := []Code{ProtocolViolation, FrameTooLarge, AuthRequired}
	for _, c := range fatal {
		if !c.FatalToConnection() {
			t.Errorf("%s: want fatal", c)
		}
	}
	recoverable := []Code{Timeout, BudgetExceeded, RateLimited, Backpressure}
	for _, c := range recoverable {
		if c.FatalToConnection() {
			t.Errorf("%s: want not fatal", c)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Timeout, "waiting for agent", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find wrapped cause")
	}
	if CodeOf(err) != Timeout {
		t.Fatalf("CodeOf = %s, want TIMEOUT", CodeOf(err))
	}
}

func TestCodeOfNested(t *testing.T) {
	inner := New(BudgetExceeded, "over budget")
	outer := fmt.Errorf("dispatch failed: %w", inner)
	if CodeOf(outer) != BudgetExceeded {
		t.Fatalf("CodeOf(nested) = %s, want BUDGET_EXCEEDED", CodeOf(outer))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(errors.New("plain")) != Internal {
		t.Fatalf("CodeOf(plain) should default to INTERNAL")
	}
	if CodeOf(nil) != "" {
		t.Fatalf("CodeOf(nil) should be empty")
	}
}
