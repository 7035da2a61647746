package service

import (
	"sync"
	"time"
)

// LogCursor tracks how far a container's log stream has been read.
// LastOffset counts every line ever appended to the buffer.
type LogCursor struct {
	ContainerID string
	LastOffset  int64

	// since is the timestamp of the newest line read; seenAtSince counts the
	// lines with exactly that timestamp, which the next inclusive read returns again.
	since       time.Time
	seenAtSince int
	primed      bool
}

// lineRing is a fixed-size ring of lines; the oldest line is overwritten first.
type lineRing struct {
	lines []string
	start int
	size  int
}

func newLineRing(capacity int) *lineRing {
	return &lineRing{lines: make([]string, capacity)}
}

func (r *lineRing) push(line string) {
	if len(r.lines) == 0 {
		return
	}
	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

// last returns up to n of the newest lines, oldest first.
func (r *lineRing) last(n int) []string {
	if n > r.size {
		n = r.size
	}
	out := make([]string, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.lines[(r.start+i)%len(r.lines)])
	}
	return out
}

func (r *lineRing) reset() {
	r.start, r.size = 0, 0
}

// logBuffer holds the recent lines of one container. fetching is held while
// reading from the engine; mu only while touching the ring.
type logBuffer struct {
	fetching sync.Mutex

	mu         sync.Mutex
	ring       *lineRing
	cursor     LogCursor
	lastAccess time.Time
	removed    bool
}

func newLogBuffer(containerID string, capacity int, now time.Time) *logBuffer {
	return &logBuffer{
		ring:       newLineRing(capacity),
		cursor:     LogCursor{ContainerID: containerID},
		lastAccess: now,
	}
}

func (b *logBuffer) touch(now time.Time) {
	b.mu.Lock()
	b.lastAccess = now
	b.mu.Unlock()
}

func (b *logBuffer) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccess
}

func (b *logBuffer) markRemoved() {
	b.mu.Lock()
	b.removed = true
	b.mu.Unlock()
}

func (b *logBuffer) isRemoved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removed
}

// readPosition returns where the next engine read starts. A zero time
// means read the tail.
func (b *logBuffer) readPosition() (since time.Time, first bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor.since, !b.cursor.primed
}

// append adds lines returned by an inclusive read from the cursor position,
// skipping the ones already buffered.
func (b *logBuffer) append(lines []LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &b.cursor
	if c.primed && c.since.IsZero() {
		// the stream carries no timestamps: every read is a fresh tail
		b.ring.reset()
	}

	since, skip := c.since, c.seenAtSince
	prev := since
	for _, l := range lines {
		t := l.Time
		if t.IsZero() {
			t = prev
		}
		prev = t

		if !since.IsZero() {
			if t.Before(since) {
				continue
			}
			if t.Equal(since) && skip > 0 {
				skip--
				continue
			}
		}

		b.ring.push(l.Text)
		c.LastOffset++
		switch {
		case t.Equal(c.since):
			c.seenAtSince++
		case t.After(c.since):
			c.since = t
			c.seenAtSince = 1
		}
	}
	c.primed = true
}

// tail returns up to n of the newest lines, oldest first.
func (b *logBuffer) tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.last(n)
}

// from returns the buffered lines at or after offset and the offset to ask
// for next. Lines already evicted from the ring are skipped.
func (b *logBuffer) from(offset int64) ([]string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.cursor.LastOffset
	if offset >= end {
		return []string{}, end
	}
	n := end - offset
	if n > int64(b.ring.size) {
		n = int64(b.ring.size)
	}
	return b.ring.last(int(n)), end
}
