package sync

import "time"

// Backoff is the rate-limit window. Each Trip doubles the delay from start up
// to max; Reset clears it after a successful cycle.
type Backoff struct {
	start time.Duration
	max   time.Duration

	delay time.Duration
	until time.Time
}

func NewBackoff(start, max time.Duration) *Backoff {
	if max < start {
		max = start
	}
	return &Backoff{start: start, max: max}
}

// Active reports whether cycles should be skipped at now.
func (b *Backoff) Active(now time.Time) bool {
	return b.delay > 0 && now.Before(b.until)
}

// Trip records another 429 and returns the new delay.
func (b *Backoff) Trip(now time.Time) time.Duration {
	switch {
	case b.delay == 0:
		b.delay = b.start
	case b.delay*2 > b.max:
		b.delay = b.max
	default:
		b.delay *= 2
	}
	b.until = now.Add(b.delay)
	return b.delay
}

func (b *Backoff) Reset() {
	b.delay = 0
	b.until = time.Time{}
}

func (b *Backoff) Delay() time.Duration { return b.delay }

func (b *Backoff) Until() time.Time { return b.until }

// Restore loads a persisted window.
func (b *Backoff) Restore(delay time.Duration, until time.Time) {
	if delay > b.max {
		delay = b.max
	}
	b.delay = delay
	b.until = until
}
