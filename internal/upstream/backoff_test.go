// internal/upstream/backoff_test.go
package upstream

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for k, expected := range want {
		if got := b.Next(); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", k, expected, got)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := DefaultBackoff()
	b.Next()
	b.Next()
	b.Next()
	if b.Failures() != 3 {
		t.Fatalf("expected 3 failures, got %d", b.Failures())
	}

	b.Reset()
	if b.Failures() != 0 {
		t.Fatalf("expected 0 failures after reset, got %d", b.Failures())
	}
	if got := b.Next(); got != 1*time.Second {
		t.Errorf("expected base delay after reset, got %v", got)
	}
}
