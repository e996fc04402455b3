package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/big21ray/ionia-sub002/internal/buffer"
	"github.com/big21ray/ionia-sub002/internal/media"
)

// dequeueWait bounds how long the writer parks on an empty buffer so it
// notices shutdown and connection-state changes promptly.
const dequeueWait = 100 * time.Millisecond

// Writer drains the buffer into the sink. It is the single goroutine that
// performs sink I/O; a failed write is reported to the monitor and the
// packet is discarded. While the sink is not connected, dequeued packets
// are dropped so the buffer keeps draining instead of backing up into the
// encoders during an outage.
type Writer struct {
	sink Sink
	buf  *buffer.Buffer
	mon  *Monitor

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	packetsWritten atomic.Int64
	bytesWritten   atomic.Int64
	discardedVideo atomic.Int64
	discardedAudio atomic.Int64
}

func NewWriter(s Sink, buf *buffer.Buffer, mon *Monitor) *Writer {
	return &Writer{
		sink: s,
		buf:  buf,
		mon:  mon,
		done: make(chan struct{}),
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop halts the drain loop. Packets still queued are left to the buffer's
// owner; the writer does not flush on shutdown.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

// PacketsWritten returns the count of packets handed to the sink successfully.
func (w *Writer) PacketsWritten() int64 { return w.packetsWritten.Load() }

// BytesWritten returns the payload bytes handed to the sink successfully.
func (w *Writer) BytesWritten() int64 { return w.bytesWritten.Load() }

// DiscardedWhileDown returns packets dropped because the sink was not
// connected, or because the connection changed underneath them.
func (w *Writer) DiscardedWhileDown() int64 {
	return w.discardedVideo.Load() + w.discardedAudio.Load()
}

// DiscardedVideo returns the video share of DiscardedWhileDown.
func (w *Writer) DiscardedVideo() int64 { return w.discardedVideo.Load() }

// DiscardedAudio returns the audio share of DiscardedWhileDown.
func (w *Writer) DiscardedAudio() int64 { return w.discardedAudio.Load() }

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		default:
		}

		gen := w.mon.Generation()
		p, ok := w.buf.Dequeue(dequeueWait)
		if !ok {
			continue
		}
		w.deliver(p, gen)
	}
}

// deliver writes one packet, stamped with the connection generation observed
// before it was dequeued. A reconnect clears the buffer, but a packet already
// dequeued at that moment escapes the clear; the generation check catches it
// so stale data is never replayed on the new connection.
func (w *Writer) deliver(p *media.Packet, gen int64) {
	if w.mon.State() != StateConnected {
		w.discard(p)
		return
	}
	if w.mon.Generation() != gen {
		w.discard(p)
		return
	}
	if err := w.sink.WritePacket(p); err != nil {
		w.mon.ReportFailure(err)
		return
	}
	w.packetsWritten.Add(1)
	w.bytesWritten.Add(int64(len(p.Data)))
}

func (w *Writer) discard(p *media.Packet) {
	if p.Kind == media.StreamVideo {
		w.discardedVideo.Add(1)
	} else {
		w.discardedAudio.Add(1)
	}
}
