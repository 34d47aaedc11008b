// Copyright 2024-2026 Aiku AI

package stream

import "time"

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Backoff yields doubling reconnect delays up to a cap.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff returns a Backoff starting at initial and capped at limit.
// Non-positive values are replaced with the defaults.
func NewBackoff(initial, limit time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if limit <= 0 {
		limit = DefaultMaxBackoff
	}
	if limit < initial {
		limit = initial
	}
	return &Backoff{initial: initial, max: limit, next: initial}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.max)
	return d
}

// Peek returns the delay Next would return without advancing.
func (b *Backoff) Peek() time.Duration {
	return b.next
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.next = b.initial
}
