package backoff

import "time"

// DefaultSchedule ramps reconnection attempts from immediate up to ten
// minutes. The first entry is zero so a freshly started watcher connects
// without waiting.
var DefaultSchedule = []time.Duration{
	0,
	60 * time.Second,
	120 * time.Second,
	500 * time.Second,
	600 * time.Second,
}

// Backoff walks a fixed schedule of retry delays. Next never runs out: once
// the cursor reaches the last entry it stays there until Reset rewinds it.
type Backoff struct {
	cursor   int
	schedule []time.Duration
}

// New creates a Backoff over the given schedule. It panics if the schedule
// is empty, since a delay sequence that yields nothing cannot pace anything.
func New(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		panic("backoff: empty schedule")
	}
	return &Backoff{schedule: schedule}
}

// Next returns the current delay and advances the cursor, clamping at the
// final entry.
func (b *Backoff) Next() time.Duration {
	d := b.schedule[b.cursor]
	if b.cursor < len(b.schedule)-1 {
		b.cursor++
	}
	return d
}

// Reset rewinds the cursor so the next delay is the first of the schedule.
func (b *Backoff) Reset() {
	b.cursor = 0
}
