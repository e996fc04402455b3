// Package codec adapts the raw units produced by the pipeline to encoded
// packets. Video goes through a pluggable backend (software x264 by default,
// hardware backends register themselves per platform); audio goes through
// Opus with fixed-duration re-framing.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/big21ray/ionia-sub002/internal/media"
)

type QualityPreset string

const (
	QualityAuto   QualityPreset = "auto"
	QualityLow    QualityPreset = "low"
	QualityMedium QualityPreset = "medium"
	QualityHigh   QualityPreset = "high"
)

var (
	ErrInvalidBitrate  = errors.New("invalid bitrate")
	ErrInvalidFPS      = errors.New("invalid fps")
	ErrInvalidGeometry = errors.New("invalid frame geometry")
	ErrInvalidQuality  = errors.New("invalid quality preset")
)

// VideoConfig configures the video encoder.
type VideoConfig struct {
	Width          int
	Height         int
	FPS            int
	Bitrate        int
	Quality        QualityPreset
	PreferHardware bool
}

// DefaultVideoConfig mirrors the production defaults: 30fps H.264 at 2.5Mbps.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Width:   1280,
		Height:  720,
		FPS:     30,
		Bitrate: 2_500_000,
		Quality: QualityAuto,
	}
}

// videoBackend is the interface hardware and software encoders implement.
type videoBackend interface {
	// Encode returns the encoded access unit for one frame and whether it
	// is a keyframe.
	Encode(frame *media.RawFrame) ([]byte, bool, error)
	Close() error
	Name() string
	IsHardware() bool
}

type backendFactory func(cfg VideoConfig) (videoBackend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []backendFactory
)

// registerHardwareFactory is called from platform init functions. Factories
// are tried in registration order when PreferHardware is set.
func registerHardwareFactory(factory backendFactory) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, factory)
}

// VideoEncoder encodes raw frames into H.264 packets via its backend.
type VideoEncoder struct {
	mu      sync.Mutex
	cfg     VideoConfig
	backend videoBackend
}

// NewVideoEncoder validates the config and selects a backend: a registered
// hardware encoder when preferred and available, otherwise software x264.
func NewVideoEncoder(cfg VideoConfig) (*VideoEncoder, error) {
	cfg = applyVideoDefaults(cfg)
	if err := validateVideoConfig(cfg); err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	return &VideoEncoder{cfg: cfg, backend: backend}, nil
}

// Encode turns one raw frame into an encoded video packet. The caller
// supplies the frame index, which becomes the packet PTS/DTS.
func (v *VideoEncoder) Encode(frame *media.RawFrame, frameIndex int64) (*media.Packet, error) {
	v.mu.Lock()
	backend := v.backend
	v.mu.Unlock()
	if backend == nil {
		return nil, errors.New("encoder closed")
	}

	data, key, err := backend.Encode(frame)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("encoder produced no output")
	}

	return &media.Packet{
		Kind:     media.StreamVideo,
		Data:     data,
		PTS:      frameIndex,
		DTS:      frameIndex,
		Duration: 1,
		Keyframe: key,
	}, nil
}

// Backend returns the active backend name and whether it is hardware.
func (v *VideoEncoder) Backend() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.backend == nil {
		return "", false
	}
	return v.backend.Name(), v.backend.IsHardware()
}

func (v *VideoEncoder) Close() error {
	v.mu.Lock()
	backend := v.backend
	v.backend = nil
	v.mu.Unlock()
	if backend == nil {
		return nil
	}
	return backend.Close()
}

func (q QualityPreset) valid() bool {
	switch q {
	case QualityAuto, QualityLow, QualityMedium, QualityHigh:
		return true
	default:
		return false
	}
}

func applyVideoDefaults(cfg VideoConfig) VideoConfig {
	defaults := DefaultVideoConfig()
	if cfg.Quality == "" {
		cfg.Quality = defaults.Quality
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = defaults.Bitrate
	}
	if cfg.FPS == 0 {
		cfg.FPS = defaults.FPS
	}
	return cfg
}

func validateVideoConfig(cfg VideoConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, cfg.Width, cfg.Height)
	}
	if cfg.Bitrate <= 0 {
		return ErrInvalidBitrate
	}
	if cfg.FPS <= 0 {
		return ErrInvalidFPS
	}
	if !cfg.Quality.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidQuality, cfg.Quality)
	}
	return nil
}

func newBackend(cfg VideoConfig) (videoBackend, error) {
	if cfg.PreferHardware {
		if backend := tryHardware(cfg); backend != nil {
			return backend, nil
		}
	}
	return newX264Backend(cfg)
}

func tryHardware(cfg VideoConfig) videoBackend {
	hardwareFactoriesMu.Lock()
	factories := append([]backendFactory(nil), hardwareFactories...)
	hardwareFactoriesMu.Unlock()
	for _, factory := range factories {
		backend, err := factory(cfg)
		if err == nil && backend != nil {
			return backend
		}
	}
	return nil
}
