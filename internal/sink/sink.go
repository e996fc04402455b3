// Package sink delivers encoded packets to their destination: a local WebM
// file, a WebSocket endpoint, or an RTP/UDP receiver. The sink writer is the
// only goroutine in the pipeline allowed to block on I/O; everything upstream
// stays non-blocking behind the bounded buffer.
package sink

import (
	"fmt"
	"strings"

	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
)

var log = logging.L("sink")

// Timing converts stream-native packet timestamps (frame index for video,
// sample frames for audio) to wall-clock units.
type Timing struct {
	SampleRate int
	FrameRate  int
}

// PacketMillis returns the packet's presentation time in milliseconds.
func (t Timing) PacketMillis(p *media.Packet) int64 {
	if p.Kind == media.StreamVideo {
		return p.PTS * 1000 / int64(t.FrameRate)
	}
	return p.PTS * 1000 / int64(t.SampleRate)
}

// Config carries the stream parameters sinks need for headers and framing.
type Config struct {
	Width    int
	Height   int
	Channels int
	Timing   Timing
}

// Sink is a packet destination. Open establishes or re-establishes the
// destination; after a failed WritePacket the connection monitor closes the
// sink and calls Open again. Implementations are safe for Open/Close from
// the monitor goroutine concurrent with WritePacket from the writer.
type Sink interface {
	Open() error
	WritePacket(p *media.Packet) error
	Close() error
	// Target describes the destination for logs.
	Target() string
}

// New builds a sink from a destination descriptor: ws:// and wss:// dial a
// WebSocket endpoint, rtp:// sends RTP over UDP, anything else is a local
// WebM file path.
func New(descriptor string, cfg Config) (Sink, error) {
	if descriptor == "" {
		return nil, fmt.Errorf("empty sink descriptor")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	switch {
	case strings.HasPrefix(descriptor, "ws://"), strings.HasPrefix(descriptor, "wss://"):
		return newWSSink(descriptor, cfg), nil
	case strings.HasPrefix(descriptor, "rtp://"):
		return newRTPSink(descriptor, cfg)
	default:
		return newFileSink(descriptor, cfg), nil
	}
}

func validateConfig(cfg Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid sink geometry %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Timing.SampleRate <= 0 || cfg.Timing.FrameRate <= 0 {
		return fmt.Errorf("invalid sink timing %d Hz / %d fps", cfg.Timing.SampleRate, cfg.Timing.FrameRate)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return fmt.Errorf("invalid channel count %d", cfg.Channels)
	}
	return nil
}
