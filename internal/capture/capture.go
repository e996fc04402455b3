// Package capture defines the source interfaces the pipeline consumes and
// provides synthetic sources for testing without real devices. Real capture
// backends are platform specific and plug in behind the same interfaces.
package capture

import (
	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
)

var log = logging.L("capture")

// AudioSource pushes interleaved PCM at its native sample rate. The emit
// callback must not block; the mixer buffers and resamples downstream.
type AudioSource interface {
	Name() string
	SampleRate() int
	Channels() int
	Start(emit func(samples []int16)) error
	Stop()
}

// VideoSource pushes raw frames whenever the device produces them. Frames
// land in a single-frame slot; pacing is handled by the video timeline, not
// the source.
type VideoSource interface {
	Name() string
	Start(store func(frame *media.RawFrame)) error
	Stop()
}
