// Package video paces video frame production at a constant rate. The frame
// index advances with wall-clock time no matter what capture does: a missing
// frame is replaced by the last good one, or by a blank frame before the
// first capture arrives. The index never skips and never stalls.
package video

import (
	"sync/atomic"
	"time"

	"github.com/big21ray/ionia-sub002/internal/clock"
	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
)

var log = logging.L("video")

// catchUpLimit caps frames produced in one tick so a scheduler stall or a
// capture burst cannot trigger an encoding storm; the timeline converges
// over the following ticks instead.
const catchUpLimit = 10

// EncodeFunc hands one frame to the encoder adapter. An error is per-frame:
// logged, counted, never retried, and never stops the timeline.
type EncodeFunc func(frame *media.RawFrame, frameIndex int64) error

// Timeline drives constant-frame-rate video. Tick must be called by exactly
// one scheduler goroutine.
type Timeline struct {
	clk    *clock.SessionClock
	slot   *FrameSlot
	encode EncodeFunc

	width  int
	height int

	currentFrameIndex atomic.Int64
	lastGood          *media.RawFrame
	blank             *media.RawFrame

	duplicated   atomic.Int64
	blanks       atomic.Int64
	encodeErrors atomic.Int64
}

// NewTimeline creates a timeline for the configured geometry. The blank
// frame substitutes until the first capture arrives.
func NewTimeline(clk *clock.SessionClock, slot *FrameSlot, width, height int, encode EncodeFunc) *Timeline {
	return &Timeline{
		clk:    clk,
		slot:   slot,
		encode: encode,
		width:  width,
		height: height,
		blank: &media.RawFrame{
			Pixels: make([]byte, width*height*4),
			Width:  width,
			Height: height,
			Format: media.FormatBGRA,
		},
	}
}

// Tick produces every frame due at now. Each iteration advances
// currentFrameIndex by exactly one, regardless of whether fresh pixels were
// available — advancing the clock is decoupled from having new content.
// Tying the increment to a successful capture would freeze the timeline
// permanently the first time capture stalled, because the index could never
// catch up to the ever-growing expected index.
func (t *Timeline) Tick(now time.Time) {
	expected := t.clk.ExpectedFrameIndex(now)

	produced := 0
	for t.currentFrameIndex.Load() < expected && produced < catchUpLimit {
		idx := t.currentFrameIndex.Load()

		frame, fresh := t.slot.Take()
		switch {
		case fresh:
			t.lastGood = frame
		case t.lastGood != nil:
			frame = t.lastGood
			t.duplicated.Add(1)
		default:
			frame = t.blank
			t.blanks.Add(1)
		}

		if err := t.encode(frame, idx); err != nil {
			t.encodeErrors.Add(1)
			log.Warn("frame encode failed, skipping", "frame", idx, "error", err)
		}

		t.currentFrameIndex.Add(1)
		produced++
	}
}

// FrameIndex returns the current frame index: exactly the number of frame
// intervals elapsed since session start, once Tick has caught up.
func (t *Timeline) FrameIndex() int64 { return t.currentFrameIndex.Load() }

// DuplicatedFrames returns how many emitted frames reused the last good capture.
func (t *Timeline) DuplicatedFrames() int64 { return t.duplicated.Load() }

// BlankFrames returns how many emitted frames were blank (pre-first-capture).
func (t *Timeline) BlankFrames() int64 { return t.blanks.Load() }

// EncodeErrors returns the count of per-frame encode failures.
func (t *Timeline) EncodeErrors() int64 { return t.encodeErrors.Load() }
