package peer

import (
	"context"
	"sync"
	"time"
)

// RTTSource yields one round trip time measurement. ok is false when no
// measurement is available.
type RTTSource func() (rtt time.Duration, ok bool)

// Sampler keeps a bounded sliding window of round trip time samples for the
// active peer connection. The window empties whenever the connection is not
// established, so readings never mix connections.
type Sampler struct {
	window int

	mu      sync.Mutex
	samples []time.Duration
}

// NewSampler returns a sampler holding at most window samples.
func NewSampler(window int) *Sampler {
	if window <= 0 {
		window = 1
	}
	return &Sampler{window: window}
}

// Record appends one sample, evicting the oldest when the window is full.
func (s *Sampler) Record(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, rtt)
	if len(s.samples) > s.window {
		s.samples = s.samples[len(s.samples)-s.window:]
	}
}

// Clear drops all samples.
func (s *Sampler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
}

// Samples returns a copy of the window, oldest first.
func (s *Sampler) Samples() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.samples))
	copy(out, s.samples)
	return out
}

// Last returns the newest sample.
func (s *Sampler) Last() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0, false
	}
	return s.samples[len(s.samples)-1], true
}

// Average returns the mean of the window.
func (s *Sampler) Average() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range s.samples {
		sum += d
	}
	return sum / time.Duration(len(s.samples)), true
}

// Run samples source every interval while connected reports true, clearing
// the window while it reports false. Returns when ctx is done.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, connected func() bool, source RTTSource) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !connected() {
				s.Clear()
				continue
			}
			if rtt, ok := source(); ok {
				s.Record(rtt)
			}
		}
	}
}
