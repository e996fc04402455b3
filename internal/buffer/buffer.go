// Package buffer implements the bounded queue between the encoders and the
// sink writer. It absorbs short-term rate mismatches and applies an
// asymmetric drop policy when falling behind: video is shed first and
// aggressively, audio is always accepted, because an audio gap is far more
// destructive to the result than a missing picture.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
)

var log = logging.L("buffer")

type entry struct {
	packet     *media.Packet
	enqueuedAt time.Time
}

// Buffer is a bounded FIFO with a latency ceiling and drop-mode hysteresis.
// The dropVideo flag is sticky: once tripped by crossing the high-water mark
// or the latency ceiling it stays set until the queue drains below the
// low-water mark, so the policy cannot flap at the boundary.
//
// Enqueue rejects rather than evicts: packets already queued are never
// dropped (drop-newest, not drop-oldest), preserving FIFO continuity for
// whatever was already accepted.
type Buffer struct {
	mu      sync.Mutex
	entries []entry

	maxSize    int
	lowWater   int
	maxLatency time.Duration

	dropVideo    atomic.Bool
	droppedVideo atomic.Int64
	droppedAudio atomic.Int64

	signal chan struct{}
	closed bool
}

// New creates a buffer that trips drop mode above maxSize packets or when
// the oldest unsent packet exceeds maxLatency. The low-water mark for
// clearing drop mode is half of maxSize.
func New(maxSize int, maxLatency time.Duration) *Buffer {
	if maxSize < 2 {
		maxSize = 2
	}
	return &Buffer{
		maxSize:    maxSize,
		lowWater:   maxSize / 2,
		maxLatency: maxLatency,
		signal:     make(chan struct{}, 1),
	}
}

// TryEnqueue offers a packet. Audio is always accepted, regardless of
// fullness. Video is rejected while drop mode is active or when accepting
// it would cross the high-water mark or the latency ceiling (which also
// activates drop mode). Returns whether the packet was queued.
func (b *Buffer) TryEnqueue(p *media.Packet) bool {
	now := time.Now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if p.Kind == media.StreamVideo {
			b.droppedVideo.Add(1)
		} else {
			b.droppedAudio.Add(1)
		}
		return false
	}

	over := len(b.entries) >= b.maxSize || b.latencyLocked(now) > b.maxLatency

	if p.Kind == media.StreamVideo {
		if b.dropVideo.Load() {
			b.mu.Unlock()
			b.droppedVideo.Add(1)
			return false
		}
		if over {
			b.dropVideo.Store(true)
			b.mu.Unlock()
			b.droppedVideo.Add(1)
			log.Warn("backpressure: entering video drop mode",
				"size", b.Size(), "latencyMs", b.Latency().Milliseconds())
			return false
		}
	} else if over && !b.dropVideo.Load() {
		// Audio is enqueued regardless, but an overfull buffer still trips
		// drop mode so subsequent video is shed.
		b.dropVideo.Store(true)
		log.Warn("backpressure: entering video drop mode",
			"size", len(b.entries), "latencyMs", b.latencyLocked(now).Milliseconds())
	}

	b.entries = append(b.entries, entry{packet: p, enqueuedAt: now})
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

// Dequeue pops the oldest packet, waiting up to timeout when the buffer is
// empty. The timeout keeps the sink writer responsive to connection-state
// changes even when no data flows. Used only by the sink writer goroutine.
func (b *Buffer) Dequeue(timeout time.Duration) (*media.Packet, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.entries) > 0 {
			e := b.entries[0]
			b.entries = b.entries[1:]
			b.maybeClearDropLocked()
			b.mu.Unlock()
			return e.packet, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-b.signal:
		case <-timer.C:
			return nil, false
		}
	}
}

// Clear discards every queued packet. Called on reconnect: stale data is
// dropped, not flushed, so transmission resumes at the live position.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	n := len(b.entries)
	b.entries = nil
	b.maybeClearDropLocked()
	b.mu.Unlock()
	return n
}

// Close marks the buffer as torn down; subsequent enqueues fail and a
// blocked Dequeue returns.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Size returns the current queue depth.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Latency returns the age of the oldest unsent packet.
func (b *Buffer) Latency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latencyLocked(time.Now())
}

// Backpressure reports whether video drop mode is active.
func (b *Buffer) Backpressure() bool { return b.dropVideo.Load() }

// DroppedVideo returns the count of rejected video packets.
func (b *Buffer) DroppedVideo() int64 { return b.droppedVideo.Load() }

// DroppedAudio returns the count of rejected audio packets. Expected to stay
// zero: audio is only refused after Close.
func (b *Buffer) DroppedAudio() int64 { return b.droppedAudio.Load() }

func (b *Buffer) latencyLocked(now time.Time) time.Duration {
	if len(b.entries) == 0 {
		return 0
	}
	return now.Sub(b.entries[0].enqueuedAt)
}

func (b *Buffer) maybeClearDropLocked() {
	if b.dropVideo.Load() && len(b.entries) < b.lowWater {
		b.dropVideo.Store(false)
		log.Info("backpressure: drained below low-water mark, video drop mode cleared",
			"size", len(b.entries), "lowWater", b.lowWater)
	}
}
