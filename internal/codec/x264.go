package codec

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gen2brain/x264-go"

	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
)

var log = logging.L("codec")

// x264Backend is the always-available software encoder. It is configured for
// low-latency streaming: zerolatency tune, baseline profile, no B-frames, so
// DTS equals PTS and every access unit is self-contained for the muxer.
type x264Backend struct {
	mu  sync.Mutex
	enc *x264.Encoder
	out *bytes.Buffer
	cfg VideoConfig
}

func newX264Backend(cfg VideoConfig) (videoBackend, error) {
	out := &bytes.Buffer{}
	enc, err := x264.NewEncoder(out, &x264.Options{
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: cfg.FPS,
		Tune:      "zerolatency",
		Preset:    presetFor(cfg.Quality),
		Profile:   "baseline",
		LogLevel:  x264.LogError,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize x264: %w", err)
	}
	log.Info("software H.264 encoder initialized",
		"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS,
		"preset", presetFor(cfg.Quality))
	return &x264Backend{enc: enc, out: out, cfg: cfg}, nil
}

// presetFor maps the quality preset to an x264 speed preset. Rate control is
// driven by the preset rather than an explicit bitrate cap; faster presets
// trade size for encode time.
func presetFor(q QualityPreset) string {
	switch q {
	case QualityLow:
		return "ultrafast"
	case QualityHigh:
		return "fast"
	default:
		return "veryfast"
	}
}

func (x *x264Backend) Encode(frame *media.RawFrame) ([]byte, bool, error) {
	img, err := newRawFrameImage(frame)
	if err != nil {
		return nil, false, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.enc == nil {
		return nil, false, fmt.Errorf("x264 backend closed")
	}

	x.out.Reset()
	if err := x.enc.Encode(img); err != nil {
		return nil, false, fmt.Errorf("x264 encode: %w", err)
	}

	data := append([]byte(nil), x.out.Bytes()...)
	return data, containsIDR(data), nil
}

func (x *x264Backend) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.enc == nil {
		return nil
	}
	enc := x.enc
	x.enc = nil
	if err := enc.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (x *x264Backend) Name() string     { return "x264" }
func (x *x264Backend) IsHardware() bool { return false }

// containsIDR scans an Annex-B stream for an IDR slice (NAL type 5). Both
// 3-byte and 4-byte start codes appear in x264 output.
func containsIDR(data []byte) bool {
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var nal byte
		if data[i+2] == 1 && i+3 < len(data) {
			nal = data[i+3]
		} else if data[i+2] == 0 && i+4 < len(data) && data[i+3] == 1 {
			nal = data[i+4]
		} else {
			continue
		}
		if nal&0x1F == 5 {
			return true
		}
	}
	return false
}
