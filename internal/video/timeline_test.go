package video

import (
	"errors"
	"testing"
	"time"

	"github.com/big21ray/ionia-sub002/internal/clock"
	"github.com/big21ray/ionia-sub002/internal/media"
)

// Tests tick at 100ms intervals: at 30fps that is exactly 3 frames per tick,
// which avoids the nanosecond truncation of a 1/30s interval.
const (
	testFPS  = 30
	testTick = 100 * time.Millisecond
)

type frameRecorder struct {
	frames  []*media.RawFrame
	indices []int64
	fail    bool
}

func (r *frameRecorder) encode(frame *media.RawFrame, idx int64) error {
	r.frames = append(r.frames, frame)
	r.indices = append(r.indices, idx)
	if r.fail {
		return errors.New("encoder rejected frame")
	}
	return nil
}

func TestSlotCountsStoredFrames(t *testing.T) {
	s := &FrameSlot{}
	if s.Stored() != 0 {
		t.Fatalf("fresh slot reports %d stored frames", s.Stored())
	}
	for i := 0; i < 3; i++ {
		s.Store(taggedFrame(byte(i)))
	}
	s.Take()
	s.Store(taggedFrame(9))
	// Taking a frame does not rewind the capture count.
	if s.Stored() != 4 {
		t.Fatalf("stored count %d, want 4", s.Stored())
	}
}

func taggedFrame(tag byte) *media.RawFrame {
	f := &media.RawFrame{
		Pixels: make([]byte, 4*4*4),
		Width:  4,
		Height: 4,
		Format: media.FormatBGRA,
	}
	f.Pixels[0] = tag
	return f
}

// Five seconds with zero captured frames: the encoder must still receive one
// blank frame per frame slot and the index must track floor(t*fps) exactly.
func TestIndexAdvancesWithoutAnyCapture(t *testing.T) {
	origin := time.Now()
	clk := clock.NewAt(origin, 48000, testFPS)
	rec := &frameRecorder{}
	tl := NewTimeline(clk, &FrameSlot{}, 4, 4, rec.encode)

	for i := 1; i <= 50; i++ {
		now := origin.Add(time.Duration(i) * testTick)
		tl.Tick(now)
		if got, want := tl.FrameIndex(), clk.ExpectedFrameIndex(now); got != want {
			t.Fatalf("tick %d: index %d, want %d", i, got, want)
		}
	}

	if tl.FrameIndex() != 150 {
		t.Fatalf("index %d after 5s, want 150", tl.FrameIndex())
	}
	if tl.BlankFrames() != 150 {
		t.Fatalf("blank frames %d, want 150", tl.BlankFrames())
	}
	if len(rec.frames) != 150 {
		t.Fatalf("encoder received %d frames, want 150", len(rec.frames))
	}
	for i, idx := range rec.indices {
		if idx != int64(i) {
			t.Fatalf("frame index %d at position %d: indices must be gapless", idx, i)
		}
	}
}

// Capture delivers for 2s, stops for 3s, resumes nothing: the index reaches
// exactly 150 at t=5s and every frame emitted during the gap duplicates the
// last good capture.
func TestCaptureGapFilledWithDuplicates(t *testing.T) {
	origin := time.Now()
	clk := clock.NewAt(origin, 48000, testFPS)
	slot := &FrameSlot{}
	rec := &frameRecorder{}
	tl := NewTimeline(clk, slot, 4, 4, rec.encode)

	for i := 1; i <= 50; i++ {
		if i <= 20 {
			slot.Store(taggedFrame(byte(i)))
		}
		tl.Tick(origin.Add(time.Duration(i) * testTick))
	}

	if tl.FrameIndex() != 150 {
		t.Fatalf("index %d at t=5s, want 150", tl.FrameIndex())
	}
	if tl.BlankFrames() != 0 {
		t.Fatalf("blank frames %d, want 0 (capture arrived before first tick)", tl.BlankFrames())
	}

	// Frames 60..149 fall inside the gap: all must carry the tag of the
	// last frame stored before capture stopped.
	lastGoodTag := byte(20)
	for i := 60; i < 150; i++ {
		if rec.frames[i].Pixels[0] != lastGoodTag {
			t.Fatalf("frame %d tag %d, want duplicate of last good frame (tag %d)",
				i, rec.frames[i].Pixels[0], lastGoodTag)
		}
	}
	if tl.DuplicatedFrames() < 90 {
		t.Fatalf("duplicated %d frames, want at least the 90 gap frames", tl.DuplicatedFrames())
	}
}

func TestCatchUpIsCappedPerTick(t *testing.T) {
	origin := time.Now()
	clk := clock.NewAt(origin, 48000, testFPS)
	rec := &frameRecorder{}
	tl := NewTimeline(clk, &FrameSlot{}, 4, 4, rec.encode)

	// Two seconds behind: one tick emits at most the catch-up limit.
	tl.Tick(origin.Add(2 * time.Second))
	if got := tl.FrameIndex(); got != catchUpLimit {
		t.Fatalf("index %d after one tick, want %d", got, catchUpLimit)
	}

	// Repeated ticks at the same instant converge to the expected index.
	for i := 0; i < 10; i++ {
		tl.Tick(origin.Add(2 * time.Second))
	}
	if got := tl.FrameIndex(); got != 60 {
		t.Fatalf("index %d after catch-up, want 60", got)
	}
}

func TestEncodeFailureDoesNotStallTimeline(t *testing.T) {
	origin := time.Now()
	clk := clock.NewAt(origin, 48000, testFPS)
	rec := &frameRecorder{fail: true}
	tl := NewTimeline(clk, &FrameSlot{}, 4, 4, rec.encode)

	for i := 1; i <= 10; i++ {
		tl.Tick(origin.Add(time.Duration(i) * testTick))
	}

	if tl.FrameIndex() != 30 {
		t.Fatalf("index %d, want 30 despite encode failures", tl.FrameIndex())
	}
	if tl.EncodeErrors() != 30 {
		t.Fatalf("encode errors %d, want 30", tl.EncodeErrors())
	}
}

func TestFreshFrameConsumedOnceThenDuplicated(t *testing.T) {
	origin := time.Now()
	clk := clock.NewAt(origin, 48000, testFPS)
	slot := &FrameSlot{}
	rec := &frameRecorder{}
	tl := NewTimeline(clk, slot, 4, 4, rec.encode)

	slot.Store(taggedFrame(7))
	tl.Tick(origin.Add(testTick)) // 3 frames due

	if len(rec.frames) != 3 {
		t.Fatalf("encoder received %d frames, want 3", len(rec.frames))
	}
	for i := 0; i < 3; i++ {
		if rec.frames[i].Pixels[0] != 7 {
			t.Fatalf("frame %d lost the captured content", i)
		}
	}
	if tl.DuplicatedFrames() != 2 {
		t.Fatalf("duplicated %d, want 2 (one fresh, two repeats)", tl.DuplicatedFrames())
	}
}
