package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogReader reads timestamped log lines from the engine.
type LogReader interface {
	ReadLogs(ctx context.Context, engineID string, since time.Time, tail int) ([]LogLine, error)
}

// LogTargets maps a container id to its engine id.
type LogTargets interface {
	LogTarget(id string) (engineID string, removed bool, err error)
}

// LogService serves recent container log lines to high-frequency pollers.
// Each poll reads only what the engine appended since the previous one.
type LogService struct {
	reader   LogReader
	targets  LogTargets
	capacity int
	grace    time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buffers map[string]*logBuffer
}

// NewLogService creates a log service keeping up to capacity lines per container.
// Buffers nobody read for grace are discarded by Sweep.
func NewLogService(reader LogReader, targets LogTargets, capacity int, grace time.Duration) *LogService {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogService{
		reader:   reader,
		targets:  targets,
		capacity: capacity,
		grace:    grace,
		now:      time.Now,
		buffers:  make(map[string]*logBuffer),
	}
}

// GetRecentLines returns up to maxLines of the newest lines, oldest first.
// maxLines outside (0, capacity] means capacity.
func (s *LogService) GetRecentLines(ctx context.Context, containerID string, maxLines int) ([]string, error) {
	if maxLines <= 0 || maxLines > s.capacity {
		maxLines = s.capacity
	}

	buf, err := s.refresh(ctx, containerID)
	if err != nil {
		return nil, err
	}
	return buf.tail(maxLines), nil
}

// GetLinesSince returns lines at or after offset and the offset to pass next
// time. Used by push streams; offset 0 starts at the oldest buffered line.
func (s *LogService) GetLinesSince(ctx context.Context, containerID string, offset int64) ([]string, int64, error) {
	buf, err := s.refresh(ctx, containerID)
	if err != nil {
		return nil, offset, err
	}
	lines, next := buf.from(offset)
	return lines, next, nil
}

// Removed reports whether the container's buffer is frozen because it was removed.
func (s *LogService) Removed(containerID string) bool {
	s.mu.Lock()
	buf, ok := s.buffers[containerID]
	s.mu.Unlock()
	return ok && buf.isRemoved()
}

func (s *LogService) refresh(ctx context.Context, containerID string) (*logBuffer, error) {
	engineID, removed, err := s.targets.LogTarget(containerID)
	if err != nil {
		// a purged container keeps serving its frozen buffer until the grace period ends
		if errors.Is(err, ErrNotFound) {
			if buf := s.existing(containerID); buf != nil && buf.isRemoved() {
				return buf, nil
			}
		}
		return nil, err
	}

	buf := s.buffer(containerID)
	if removed {
		buf.markRemoved()
		return buf, nil
	}
	if engineID == "" {
		// still being created
		return buf, nil
	}

	if err := s.fill(ctx, buf, engineID); err != nil {
		// removal may have raced with the read
		if _, removedNow, terr := s.targets.LogTarget(containerID); terr == nil && removedNow {
			buf.markRemoved()
			return buf, nil
		}
		logrus.WithField("container", containerID).Debugf("Failed to read logs: %v", err)
		return nil, err
	}
	return buf, nil
}

// fill reads newly appended lines into buf. When another request is already
// reading for this container, the buffered lines are served as they are.
func (s *LogService) fill(ctx context.Context, buf *logBuffer, engineID string) error {
	if !buf.fetching.TryLock() {
		return nil
	}
	defer buf.fetching.Unlock()

	since, first := buf.readPosition()
	tail := 0
	if first {
		tail = s.capacity
	}

	lines, err := s.reader.ReadLogs(ctx, engineID, since, tail)
	if err != nil {
		return err
	}
	buf.append(lines)
	return nil
}

func (s *LogService) buffer(containerID string) *logBuffer {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[containerID]
	if !ok {
		buf = newLogBuffer(containerID, s.capacity, now)
		s.buffers[containerID] = buf
		return buf
	}
	buf.touch(now)
	return buf
}

func (s *LogService) existing(containerID string) *logBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[containerID]
	if !ok {
		return nil
	}
	buf.touch(s.now())
	return buf
}

// Sweep discards buffers nobody read for the grace period.
func (s *LogService) Sweep() int {
	cutoff := s.now().Add(-s.grace)

	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for id, buf := range s.buffers {
		if buf.idleSince().Before(cutoff) {
			delete(s.buffers, id)
			swept++
		}
	}
	if swept > 0 {
		logrus.Debugf("Discarded %d idle log buffers", swept)
	}
	return swept
}

// Run sweeps idle buffers until ctx is done.
func (s *LogService) Run(ctx context.Context) {
	interval := s.grace / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
