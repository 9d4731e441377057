package peer

import (
	"reflect"
	"testing"
	"time"
)

func TestSampler_WindowIsBounded(t *testing.T) {
	s := NewSampler(3)

	for i := 1; i <= 5; i++ {
		s.Record(time.Duration(i) * time.Millisecond)
	}

	want := []time.Duration{3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond}
	if got := s.Samples(); !reflect.DeepEqual(got, want) {
		t.Fatalf("window: got %v, want %v", got, want)
	}

	last, ok := s.Last()
	if !ok || last != 5*time.Millisecond {
		t.Fatalf("last: got %v %v", last, ok)
	}
	avg, ok := s.Average()
	if !ok || avg != 4*time.Millisecond {
		t.Fatalf("average: got %v %v", avg, ok)
	}
}

func TestSampler_ClearEmptiesWindow(t *testing.T) {
	s := NewSampler(10)
	s.Record(time.Millisecond)
	s.Clear()

	if got := s.Samples(); len(got) != 0 {
		t.Fatalf("samples after clear: %v", got)
	}
	if _, ok := s.Last(); ok {
		t.Fatal("last available after clear")
	}
	if _, ok := s.Average(); ok {
		t.Fatal("average available after clear")
	}
}
