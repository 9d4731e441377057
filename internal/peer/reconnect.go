package peer

import "time"

const (
	// ReconnectBaseDelay is the delay before the first reconnect attempt.
	// Each further attempt doubles it.
	ReconnectBaseDelay = 3 * time.Second

	// ReconnectMaxAttempts is the number of consecutive failed attempts
	// tolerated before the session gives up.
	ReconnectMaxAttempts = 5
)

// Backoff tracks consecutive reconnect attempts and yields the exponential
// delay schedule. The zero value is not usable; construct with NewBackoff.
type Backoff struct {
	base    time.Duration
	max     int
	attempt int
}

// NewBackoff returns a backoff with the given base delay and attempt ceiling.
func NewBackoff(base time.Duration, maxAttempts int) *Backoff {
	return &Backoff{base: base, max: maxAttempts}
}

// Next returns the delay before the next attempt and whether an attempt is
// still permitted. The schedule for the defaults is 3s, 6s, 12s, 24s, 48s.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.max {
		return 0, false
	}
	d := b.base << uint(b.attempt)
	b.attempt++
	return d, true
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts reports how many attempts have been consumed since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}
