// Package broker implements the Topic Log and Signal Broker: a bounded,
// time-expiring, cursor-readable append log keyed by topic, and the
// dispatcher that routes pushes/pulls to the right log.
package broker

import (
	"sync"
	"time"

	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

const (
	// MaxQueueSize bounds a single topic's retained events. Once
	// exceeded, the oldest entry is evicted first (FIFO, not LIFO).
	MaxQueueSize = 200

	// ExpiryWindow is how long an entry survives before gc() is free to
	// drop it. Garbage collection runs lazily on access, at most once
	// per window; a timer-driven sweep is an allowed optimization but
	// is not required for correctness.
	ExpiryWindow = 120 * time.Second
)

type stamped struct {
	event     types.SignalingEvent
	timestamp time.Time
}

// TopicLog is a bounded FIFO of (event, wallTimestamp) pairs for a
// single topic. All operations are safe for concurrent use; push, pull,
// and gc are serialized behind one mutex so a pull always observes a
// consistent snapshot.
type TopicLog struct {
	mu      sync.Mutex
	entries []stamped
	lastGC  time.Time
}

// NewTopicLog returns an empty log.
func NewTopicLog() *TopicLog {
	return &TopicLog{lastGC: time.Now()}
}

// Push appends event, opportunistically running gc first, then evicts
// the oldest entry if the log grew past MaxQueueSize.
func (t *TopicLog) Push(event types.SignalingEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gcLocked(time.Now())
	t.entries = append(t.entries, stamped{event: event, timestamp: time.Now()})
	if len(t.entries) > MaxQueueSize {
		t.entries = t.entries[len(t.entries)-MaxQueueSize:]
	}
}

// Pull returns the events strictly after the given cursor, in push
// order. after == nil returns everything currently retained. If after
// is non-nil but not found in the window (already evicted), Pull fails
// open and returns the entire current window rather than erroring —
// callers dedupe against their own lastEventId, so replaying events
// they've already seen is a harmless no-op.
func (t *TopicLog) Pull(after *types.EventId) []types.SignalingEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gcLocked(time.Now())

	if after == nil {
		return t.snapshotLocked(0)
	}
	for i, e := range t.entries {
		if e.event.Id == *after {
			return t.snapshotLocked(i + 1)
		}
	}
	return t.snapshotLocked(0)
}

func (t *TopicLog) snapshotLocked(from int) []types.SignalingEvent {
	if from >= len(t.entries) {
		return []types.SignalingEvent{}
	}
	out := make([]types.SignalingEvent, 0, len(t.entries)-from)
	for _, e := range t.entries[from:] {
		out = append(out, e.event)
	}
	return out
}

// GC drops entries older than ExpiryWindow. It is safe to call this
// directly from a timer goroutine, but it shares the lazy path's
// at-most-once-per-window limit: a call within ExpiryWindow of the
// previous sweep does nothing. Push and Pull already call it lazily,
// so an external timer is never required.
func (t *TopicLog) GC() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gcLocked(time.Now())
}

func (t *TopicLog) gcLocked(now time.Time) {
	if now.Sub(t.lastGC) < ExpiryWindow {
		return
	}
	t.lastGC = now
	cutoff := now.Add(-ExpiryWindow)
	i := 0
	for ; i < len(t.entries); i++ {
		if !t.entries[i].timestamp.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		t.entries = t.entries[i:]
	}
}

// Len reports the number of entries currently retained, mostly useful
// for tests.
func (t *TopicLog) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
