package audio

import (
	"encoding/binary"
	"sync"
)

// sampleRing is a bounded ring of interleaved int16 samples. Capture
// callbacks write, the engine tick drains. When the ring is full the oldest
// samples are discarded so a stalled tick loop resumes with recent audio
// instead of a stale backlog.
type sampleRing struct {
	mu    sync.Mutex
	buf   []int16
	head  int // next read position
	count int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &sampleRing{buf: make([]int16, capacity)}
}

// write appends samples, discarding the oldest on overflow.
func (r *sampleRing) write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(samples) >= len(r.buf) {
		// Larger than the whole ring: keep only the newest capacity samples.
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.head = 0
		r.count = len(r.buf)
		return
	}

	overflow := r.count + len(samples) - len(r.buf)
	if overflow > 0 {
		r.head = (r.head + overflow) % len(r.buf)
		r.count -= overflow
	}

	tail := (r.head + r.count) % len(r.buf)
	n := copy(r.buf[tail:], samples)
	if n < len(samples) {
		copy(r.buf, samples[n:])
	}
	r.count += len(samples)
}

// readUpTo fills dst with up to len(dst) samples and returns how many were
// available. The remainder of dst is untouched; callers treat it as silence.
func (r *sampleRing) readUpTo(dst []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(dst)
	if n > r.count {
		n = r.count
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	return n
}

func (r *sampleRing) available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// ringWriter adapts a sampleRing to io.Writer for the resampler, which
// emits little-endian int16 bytes.
type ringWriter struct {
	ring    *sampleRing
	partial []byte // carries a dangling odd byte between writes
}

func (w *ringWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.partial) > 0 {
		data = append(w.partial, p...)
		w.partial = nil
	}
	if len(data)%2 != 0 {
		w.partial = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	w.ring.write(samples)
	return len(p), nil
}
