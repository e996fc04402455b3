package buffer

import (
	"testing"
	"time"

	"github.com/big21ray/ionia-sub002/internal/media"
)

func videoPacket(pts int64) *media.Packet {
	return &media.Packet{Kind: media.StreamVideo, PTS: pts, DTS: pts, Duration: 1}
}

func audioPacket(pts int64) *media.Packet {
	return &media.Packet{Kind: media.StreamAudio, PTS: pts, DTS: pts, Duration: 480}
}

// 150 packets into a buffer capped at 100: every video packet beyond the
// high-water mark is rejected, every audio packet in the same batch lands.
func TestAsymmetricDropPolicy(t *testing.T) {
	b := New(100, time.Minute)

	audioAccepted := 0
	videoAccepted := 0
	for i := 0; i < 150; i++ {
		if i%2 == 0 {
			if b.TryEnqueue(videoPacket(int64(i))) {
				videoAccepted++
			}
		} else {
			if b.TryEnqueue(audioPacket(int64(i))) {
				audioAccepted++
			}
		}
	}

	if audioAccepted != 75 {
		t.Fatalf("audio accepted %d, want all 75", audioAccepted)
	}
	if b.DroppedAudio() != 0 {
		t.Fatalf("dropped audio %d, want 0", b.DroppedAudio())
	}
	if got := int64(75 - videoAccepted); b.DroppedVideo() != got {
		t.Fatalf("dropped video counter %d, want %d", b.DroppedVideo(), got)
	}
	// The first 100 packets (50 video + 50 audio) fill the buffer; all
	// video offered after that is shed.
	if videoAccepted != 50 {
		t.Fatalf("video accepted %d, want 50", videoAccepted)
	}
	if !b.Backpressure() {
		t.Fatal("expected drop mode active")
	}
}

// Draining to exactly the high-water mark must not clear drop mode; only
// crossing the distinct low-water mark does.
func TestDropModeHysteresis(t *testing.T) {
	b := New(100, time.Minute)

	for i := 0; i < 100; i++ {
		b.TryEnqueue(audioPacket(int64(i)))
	}
	// Buffer full: next video trips drop mode.
	if b.TryEnqueue(videoPacket(0)) {
		t.Fatal("video accepted at high-water mark")
	}
	if !b.Backpressure() {
		t.Fatal("drop mode not tripped")
	}

	// Drain to exactly the former trip point: still dropping.
	for b.Size() > 99 {
		b.Dequeue(time.Millisecond)
	}
	if !b.Backpressure() {
		t.Fatal("drop mode cleared at high-water mark; hysteresis broken")
	}

	// Drain to the low-water mark (50): still set at exactly 50.
	for b.Size() > 50 {
		b.Dequeue(time.Millisecond)
	}
	if !b.Backpressure() {
		t.Fatal("drop mode cleared at exactly low-water mark")
	}

	// One below: cleared.
	b.Dequeue(time.Millisecond)
	if b.Backpressure() {
		t.Fatal("drop mode still set below low-water mark")
	}
	if !b.TryEnqueue(videoPacket(1)) {
		t.Fatal("video rejected after drop mode cleared")
	}
}

func TestLatencyCeilingTripsDropMode(t *testing.T) {
	b := New(100, 10*time.Millisecond)

	b.TryEnqueue(audioPacket(0))
	time.Sleep(20 * time.Millisecond)

	if b.TryEnqueue(videoPacket(1)) {
		t.Fatal("video accepted past the latency ceiling")
	}
	if !b.Backpressure() {
		t.Fatal("latency breach did not trip drop mode")
	}
	// Audio still goes through.
	if !b.TryEnqueue(audioPacket(2)) {
		t.Fatal("audio rejected during latency breach")
	}
}

func TestDequeueFIFO(t *testing.T) {
	b := New(10, time.Minute)
	for i := 0; i < 5; i++ {
		b.TryEnqueue(audioPacket(int64(i)))
	}
	for i := 0; i < 5; i++ {
		p, ok := b.Dequeue(time.Millisecond)
		if !ok {
			t.Fatalf("dequeue %d failed", i)
		}
		if p.PTS != int64(i) {
			t.Fatalf("dequeue order broken: got PTS %d, want %d", p.PTS, i)
		}
	}
	if _, ok := b.Dequeue(time.Millisecond); ok {
		t.Fatal("dequeue from empty buffer succeeded")
	}
}

func TestDequeueTimesOutOnEmpty(t *testing.T) {
	b := New(10, time.Minute)

	start := time.Now()
	_, ok := b.Dequeue(20 * time.Millisecond)
	if ok {
		t.Fatal("dequeue returned a packet from an empty buffer")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("dequeue returned before the timeout")
	}
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	b := New(10, time.Minute)

	done := make(chan *media.Packet, 1)
	go func() {
		p, _ := b.Dequeue(time.Second)
		done <- p
	}()

	time.Sleep(10 * time.Millisecond)
	b.TryEnqueue(audioPacket(42))

	select {
	case p := <-done:
		if p == nil || p.PTS != 42 {
			t.Fatalf("unexpected packet: %+v", p)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestClearEmptiesAndResetsDropMode(t *testing.T) {
	b := New(10, time.Minute)
	for i := 0; i < 10; i++ {
		b.TryEnqueue(audioPacket(int64(i)))
	}
	b.TryEnqueue(videoPacket(0)) // trips drop mode

	if n := b.Clear(); n != 10 {
		t.Fatalf("cleared %d packets, want 10", n)
	}
	if b.Size() != 0 {
		t.Fatalf("size %d after clear", b.Size())
	}
	if b.Backpressure() {
		t.Fatal("drop mode survived a clear of the whole buffer")
	}
}

func TestCloseStopsEnqueueAndDequeue(t *testing.T) {
	b := New(10, time.Minute)
	b.Close()

	if b.TryEnqueue(audioPacket(0)) {
		t.Fatal("enqueue after close succeeded")
	}
	if b.DroppedAudio() != 1 {
		t.Fatalf("dropped audio %d, want 1", b.DroppedAudio())
	}
	if _, ok := b.Dequeue(time.Second); ok {
		t.Fatal("dequeue after close returned a packet")
	}
}
