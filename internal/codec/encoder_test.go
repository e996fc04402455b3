package codec

import (
	"errors"
	"testing"

	"github.com/big21ray/ionia-sub002/internal/media"
)

type stubBackend struct {
	name     string
	hardware bool
	output   []byte
	key      bool
	err      error
	encodes  int
	closed   bool
}

func (s *stubBackend) Encode(frame *media.RawFrame) ([]byte, bool, error) {
	s.encodes++
	if s.err != nil {
		return nil, false, s.err
	}
	return s.output, s.key, nil
}

func (s *stubBackend) Close() error    { s.closed = true; return nil }
func (s *stubBackend) Name() string    { return s.name }
func (s *stubBackend) IsHardware() bool { return s.hardware }

func resetFactories() {
	hardwareFactoriesMu.Lock()
	hardwareFactories = nil
	hardwareFactoriesMu.Unlock()
}

func TestValidateVideoConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  VideoConfig
		want error
	}{
		{"zero width", VideoConfig{Width: 0, Height: 720, FPS: 30, Bitrate: 1000, Quality: QualityAuto}, ErrInvalidGeometry},
		{"negative height", VideoConfig{Width: 1280, Height: -1, FPS: 30, Bitrate: 1000, Quality: QualityAuto}, ErrInvalidGeometry},
		{"negative bitrate", VideoConfig{Width: 1280, Height: 720, FPS: 30, Bitrate: -5, Quality: QualityAuto}, ErrInvalidBitrate},
		{"negative fps", VideoConfig{Width: 1280, Height: 720, FPS: -1, Bitrate: 1000, Quality: QualityAuto}, ErrInvalidFPS},
		{"bogus quality", VideoConfig{Width: 1280, Height: 720, FPS: 30, Bitrate: 1000, Quality: "turbo"}, ErrInvalidQuality},
		{"valid", VideoConfig{Width: 1280, Height: 720, FPS: 30, Bitrate: 1000, Quality: QualityHigh}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateVideoConfig(tc.cfg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestApplyVideoDefaults(t *testing.T) {
	cfg := applyVideoDefaults(VideoConfig{Width: 640, Height: 360})
	if cfg.FPS != 30 {
		t.Fatalf("default fps %d, want 30", cfg.FPS)
	}
	if cfg.Bitrate != 2_500_000 {
		t.Fatalf("default bitrate %d, want 2500000", cfg.Bitrate)
	}
	if cfg.Quality != QualityAuto {
		t.Fatalf("default quality %q, want auto", cfg.Quality)
	}
}

func TestHardwareFactoryPreferred(t *testing.T) {
	resetFactories()
	defer resetFactories()

	hw := &stubBackend{name: "stub-hw", hardware: true, output: []byte{1}}
	registerHardwareFactory(func(cfg VideoConfig) (videoBackend, error) {
		return hw, nil
	})

	backend, err := newBackend(VideoConfig{Width: 4, Height: 4, FPS: 30, Bitrate: 1000, Quality: QualityAuto, PreferHardware: true})
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}
	if backend != hw {
		t.Fatalf("got backend %q, want the registered hardware stub", backend.Name())
	}
}

func TestHardwareFactoryFailureFallsThrough(t *testing.T) {
	resetFactories()
	defer resetFactories()

	registerHardwareFactory(func(cfg VideoConfig) (videoBackend, error) {
		return nil, errors.New("no device")
	})
	second := &stubBackend{name: "stub-hw-2", hardware: true, output: []byte{1}}
	registerHardwareFactory(func(cfg VideoConfig) (videoBackend, error) {
		return second, nil
	})

	if got := tryHardware(VideoConfig{Width: 4, Height: 4}); got != second {
		t.Fatal("factory failure did not fall through to the next factory")
	}
}

func TestVideoEncoderWrapsBackendOutput(t *testing.T) {
	backend := &stubBackend{name: "stub", output: []byte{0, 0, 0, 1, 0x65, 0xAA}, key: true}
	enc := &VideoEncoder{cfg: DefaultVideoConfig(), backend: backend}

	frame := &media.RawFrame{Pixels: make([]byte, 4*4*4), Width: 4, Height: 4, Format: media.FormatBGRA}
	pkt, err := enc.Encode(frame, 42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if pkt.Kind != media.StreamVideo {
		t.Fatal("packet kind is not video")
	}
	if pkt.PTS != 42 || pkt.DTS != 42 {
		t.Fatalf("PTS/DTS %d/%d, want 42/42", pkt.PTS, pkt.DTS)
	}
	if pkt.Duration != 1 {
		t.Fatalf("duration %d, want 1 frame interval", pkt.Duration)
	}
	if !pkt.Keyframe {
		t.Fatal("keyframe flag lost")
	}
}

func TestVideoEncoderRejectsEmptyOutput(t *testing.T) {
	backend := &stubBackend{name: "stub", output: nil}
	enc := &VideoEncoder{cfg: DefaultVideoConfig(), backend: backend}

	frame := &media.RawFrame{Pixels: make([]byte, 4*4*4), Width: 4, Height: 4, Format: media.FormatBGRA}
	if _, err := enc.Encode(frame, 0); err == nil {
		t.Fatal("expected error for empty encoder output")
	}
}

func TestVideoEncoderCloseIsIdempotent(t *testing.T) {
	backend := &stubBackend{name: "stub", output: []byte{1}}
	enc := &VideoEncoder{cfg: DefaultVideoConfig(), backend: backend}

	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !backend.closed {
		t.Fatal("backend not closed")
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	frame := &media.RawFrame{Pixels: make([]byte, 4*4*4), Width: 4, Height: 4, Format: media.FormatBGRA}
	if _, err := enc.Encode(frame, 0); err == nil {
		t.Fatal("encode after close succeeded")
	}
}

func TestContainsIDR(t *testing.T) {
	idr4 := []byte{0, 0, 0, 1, 0x65, 0x88}
	idr3 := []byte{0, 0, 1, 0x65, 0x88}
	nonIDR := []byte{0, 0, 0, 1, 0x41, 0x9A}
	mixed := append(append([]byte{}, nonIDR...), idr3...)

	if !containsIDR(idr4) {
		t.Fatal("missed IDR after 4-byte start code")
	}
	if !containsIDR(idr3) {
		t.Fatal("missed IDR after 3-byte start code")
	}
	if containsIDR(nonIDR) {
		t.Fatal("false positive on non-IDR slice")
	}
	if !containsIDR(mixed) {
		t.Fatal("missed IDR in multi-NAL stream")
	}
}

func TestRawFrameImageSwapsBGRA(t *testing.T) {
	frame := &media.RawFrame{Pixels: make([]byte, 2*2*4), Width: 2, Height: 2, Format: media.FormatBGRA}
	// Pixel (1,0): B=10 G=20 R=30
	pi := (0*2 + 1) * 4
	frame.Pixels[pi+0] = 10
	frame.Pixels[pi+1] = 20
	frame.Pixels[pi+2] = 30

	img, err := newRawFrameImage(frame)
	if err != nil {
		t.Fatalf("newRawFrameImage: %v", err)
	}
	r, g, b, a := img.At(1, 0).RGBA()
	if r>>8 != 30 || g>>8 != 20 || b>>8 != 10 || a>>8 != 0xFF {
		t.Fatalf("got RGBA %d,%d,%d,%d; want 30,20,10,255", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestRawFrameImageRejectsShortBuffer(t *testing.T) {
	frame := &media.RawFrame{Pixels: make([]byte, 7), Width: 2, Height: 2, Format: media.FormatBGRA}
	if _, err := newRawFrameImage(frame); err == nil {
		t.Fatal("expected error for undersized pixel buffer")
	}
}
