package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBreaker_StateTransitions(t *testing.T) {
	breaker := NewBreaker("test-transitions", 3, 100*time.Millisecond)

	// Initially closed
	if breaker.State() != StateClosed {
		t.Errorf("Expected state=Closed, got %v", breaker.State())
	}

	// Record failures to open
	breaker.RecordFailure()
	breaker.RecordFailure()
	if breaker.State() != StateClosed {
		t.Errorf("Expected state=Closed after 2 failures, got %v", breaker.State())
	}

	breaker.RecordFailure()
	if breaker.State() != StateOpen {
		t.Errorf("Expected state=Open after 3 failures, got %v", breaker.State())
	}

	// Wait for timeout
	time.Sleep(150 * time.Millisecond)

	// Should transition to half-open
	if !breaker.Allow() {
		t.Error("Expected Allow() to return true after timeout (half-open)")
	}
	if breaker.State() != StateHalfOpen {
		t.Errorf("Expected state=HalfOpen, got %v", breaker.State())
	}

	// Only one probe at a time
	if breaker.Allow() {
		t.Error("Expected a second probe to be rejected while half-open")
	}

	// Record success to close
	breaker.RecordSuccess()
	if breaker.State() != StateClosed {
		t.Errorf("Expected state=Closed after success, got %v", breaker.State())
	}
}

func TestBreaker_OpenState(t *testing.T) {
	breaker := NewBreaker("test-open", 2, 100*time.Millisecond)

	// Open the breaker
	breaker.RecordFailure()
	breaker.RecordFailure()

	if breaker.Allow() {
		t.Error("Expected Allow() to return false when open")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker := NewBreaker("test-reopen", 1, 20*time.Millisecond)
	breaker.RecordFailure()

	time.Sleep(30 * time.Millisecond)
	if !breaker.Allow() {
		t.Fatal("Expected probe to be allowed")
	}
	breaker.RecordFailure()

	if breaker.State() != StateOpen {
		t.Errorf("Expected state=Open after failed probe, got %v", breaker.State())
	}
	if breaker.Allow() {
		t.Error("Expected Allow() to return false right after reopening")
	}
}

func TestBreaker_Execute(t *testing.T) {
	breaker := NewBreaker("test-execute", 1, time.Hour)
	errNotFound := errors.New("not found")
	errBackend := errors.New("backend down")

	isNotFound := func(err error) bool { return errors.Is(err, errNotFound) }

	if err := breaker.Execute(func() error { return errNotFound }, isNotFound); !errors.Is(err, errNotFound) {
		t.Errorf("Expected errNotFound passed through, got %v", err)
	}
	if breaker.State() != StateClosed {
		t.Errorf("Expected ignored error to keep breaker closed, got %v", breaker.State())
	}

	if err := breaker.Execute(func() error { return errBackend }, isNotFound); !errors.Is(err, errBackend) {
		t.Errorf("Expected errBackend, got %v", err)
	}

	called := false
	err := breaker.Execute(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while open")
	}
}

func TestBreaker_ExecuteContextErrorsNotRecorded(t *testing.T) {
	breaker := NewBreaker("test-context", 1, 20*time.Millisecond)

	for _, err := range []error{context.Canceled, context.DeadlineExceeded, fmt.Errorf("get: %w", context.DeadlineExceeded)} {
		if got := breaker.Execute(func() error { return err }, nil); !errors.Is(got, err) {
			t.Errorf("Expected %v passed through, got %v", err, got)
		}
	}
	if breaker.State() != StateClosed {
		t.Fatalf("Expected caller cancellations to keep breaker closed, got %v", breaker.State())
	}

	// A cancelled half-open probe frees the slot for the next caller
	breaker.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	_ = breaker.Execute(func() error { return context.Canceled }, nil)
	if breaker.State() != StateHalfOpen {
		t.Errorf("Expected state=HalfOpen after cancelled probe, got %v", breaker.State())
	}
	if !breaker.Allow() {
		t.Error("Expected a new probe after the cancelled one")
	}
}

func TestState_String(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("Unexpected state names")
	}
}
