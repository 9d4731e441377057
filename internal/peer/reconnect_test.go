package peer

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialSchedule(t *testing.T) {
	b := NewBackoff(ReconnectBaseDelay, ReconnectMaxAttempts)

	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
	}
	for i, wantDelay := range want {
		delay, ok := b.Next()
		if !ok {
			t.Fatalf("attempt %d refused, want allowed", i+1)
		}
		if delay != wantDelay {
			t.Fatalf("attempt %d delay: got %v, want %v", i+1, delay, wantDelay)
		}
	}

	if _, ok := b.Next(); ok {
		t.Fatal("sixth attempt allowed, want refused")
	}
}

func TestBackoff_ResetRestartsSchedule(t *testing.T) {
	b := NewBackoff(ReconnectBaseDelay, ReconnectMaxAttempts)

	b.Next()
	b.Next()
	b.Next()
	if got := b.Attempts(); got != 3 {
		t.Fatalf("attempts: got %d, want 3", got)
	}

	b.Reset()
	if got := b.Attempts(); got != 0 {
		t.Fatalf("attempts after reset: got %d, want 0", got)
	}
	delay, ok := b.Next()
	if !ok || delay != 3*time.Second {
		t.Fatalf("first delay after reset: got %v %v, want 3s true", delay, ok)
	}
}
