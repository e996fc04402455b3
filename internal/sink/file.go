package sink

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"

	"github.com/big21ray/ionia-sub002/internal/media"
)

// fileSink muxes packets into a local WebM file: H.264 on track 1, Opus on
// track 2. Reopening truncates; a half-written container from a crashed run
// is not appendable.
type fileSink struct {
	path string
	cfg  Config

	mu     sync.Mutex
	file   *os.File
	video  webm.BlockWriteCloser
	audio  webm.BlockWriteCloser
	fatal  error
	opened bool
}

func newFileSink(path string, cfg Config) *fileSink {
	return &fileSink{path: path, cfg: cfg}
}

func (f *fileSink) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened {
		return nil
	}

	file, err := os.Create(f.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.path, err)
	}

	frameNanos := uint64(time.Second / time.Duration(f.cfg.Timing.FrameRate))
	writers, err := webm.NewSimpleBlockWriter(file, []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "V_MPEG4/ISO/AVC",
			TrackType:       1,
			DefaultDuration: frameNanos,
			Video: &webm.Video{
				PixelWidth:  uint64(f.cfg.Width),
				PixelHeight: uint64(f.cfg.Height),
			},
		},
		{
			Name:            "Audio",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: 20_000_000,
			Audio: &webm.Audio{
				SamplingFrequency: float64(f.cfg.Timing.SampleRate),
				Channels:          uint64(f.cfg.Channels),
			},
		},
	}, mkvcore.WithOnFatalHandler(func(err error) {
		f.mu.Lock()
		f.fatal = err
		f.mu.Unlock()
		log.Error("webm writer fatal error", "path", f.path, "error", err)
	}))
	if err != nil {
		file.Close()
		return fmt.Errorf("initialize webm container: %w", err)
	}

	f.file = file
	f.video = writers[0]
	f.audio = writers[1]
	f.fatal = nil
	f.opened = true
	log.Info("webm file sink opened", "path", f.path,
		"width", f.cfg.Width, "height", f.cfg.Height)
	return nil
}

func (f *fileSink) WritePacket(p *media.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return fmt.Errorf("file sink not open")
	}
	if f.fatal != nil {
		return fmt.Errorf("webm writer failed: %w", f.fatal)
	}

	ms := f.cfg.Timing.PacketMillis(p)
	var err error
	if p.Kind == media.StreamVideo {
		_, err = f.video.Write(p.Keyframe, ms, p.Data)
	} else {
		// Every Opus frame is independently decodable.
		_, err = f.audio.Write(true, ms, p.Data)
	}
	if err != nil {
		return fmt.Errorf("webm %s write: %w", p.Kind, err)
	}
	return nil
}

func (f *fileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return nil
	}
	f.opened = false

	// Closing the last track writer finalizes the container; the file is
	// closed afterwards.
	var firstErr error
	if err := f.video.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := f.audio.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	// NewSimpleBlockWriter closes the underlying file itself once the last
	// track writer closes; a second Close reporting os.ErrClosed is expected.
	if err := f.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) && firstErr == nil {
		firstErr = err
	}
	f.video, f.audio, f.file = nil, nil, nil
	return firstErr
}

func (f *fileSink) Target() string { return f.path }
