// Package engine assembles the full pipeline: capture sources feed the audio
// mixer and the video frame slot, the clock-driven tick loops push encoded
// packets through the bounded buffer, and the sink writer delivers them.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/big21ray/ionia-sub002/internal/audio"
	"github.com/big21ray/ionia-sub002/internal/buffer"
	"github.com/big21ray/ionia-sub002/internal/capture"
	"github.com/big21ray/ionia-sub002/internal/clock"
	"github.com/big21ray/ionia-sub002/internal/codec"
	"github.com/big21ray/ionia-sub002/internal/config"
	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
	"github.com/big21ray/ionia-sub002/internal/sink"
	"github.com/big21ray/ionia-sub002/internal/video"
)

var log = logging.L("engine")

// audioTick is the mixer cadence. Video shares the same scheduler interval;
// the timeline derives how many frames are due from the clock, not the tick.
const audioTick = 10 * time.Millisecond

// Sources bundles the capture inputs. Nil fields are filled with synthetic
// test sources according to the configuration.
type Sources struct {
	Video      capture.VideoSource
	Desktop    capture.AudioSource
	Microphone capture.AudioSource
}

// Recorder runs one capture session end to end.
type Recorder struct {
	cfg       *config.Config
	sessionID string
	sources   Sources

	clk      *clock.SessionClock
	audioEng *audio.Engine
	slot     *video.FrameSlot
	timeline *video.Timeline
	videoEnc *codec.VideoEncoder
	audioEnc *codec.AudioEncoder
	buf      *buffer.Buffer
	snk      sink.Sink
	mon      *sink.Monitor
	writer   *sink.Writer

	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	running   atomic.Bool
	startedAt time.Time

	videoSkipped   atomic.Int64 // frames not encoded because drop mode was active
	packetsEncoded atomic.Int64
	fatal          chan error
}

// NewRecorder prepares a recorder. Missing sources are substituted with
// synthetic ones so the pipeline can run without platform capture backends.
func NewRecorder(cfg *config.Config, sources Sources) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		sources:   sources,
		fatal:     make(chan error, 1),
	}
	r.fillDefaultSources()
	return r, nil
}

func (r *Recorder) fillDefaultSources() {
	ac := r.cfg.Audio
	if r.sources.Video == nil {
		r.sources.Video = capture.NewPatternVideoSource(
			r.cfg.Video.Width, r.cfg.Video.Height, r.cfg.Video.FrameRate)
	}
	wantDesktop := ac.Sources == config.SourcesDesktop || ac.Sources == config.SourcesBoth
	wantMic := ac.Sources == config.SourcesMicrophone || ac.Sources == config.SourcesBoth
	if wantDesktop && r.sources.Desktop == nil {
		r.sources.Desktop = capture.NewToneAudioSource("desktop", ac.SampleRate, ac.Channels, 440)
	}
	if wantMic && r.sources.Microphone == nil {
		r.sources.Microphone = capture.NewToneAudioSource("microphone", ac.SampleRate, ac.Channels, 220)
	}
	if !wantDesktop {
		r.sources.Desktop = nil
	}
	if !wantMic {
		r.sources.Microphone = nil
	}
}

// SessionID returns the session identifier stamped on all logs.
func (r *Recorder) SessionID() string { return r.sessionID }

// Fatal delivers at most one unrecoverable error, such as the sink becoming
// permanently unreachable. The caller should stop the recorder.
func (r *Recorder) Fatal() <-chan error { return r.fatal }

// Start builds the pipeline against the destination descriptor and begins
// capturing. The session clock starts now; all timestamps are relative to
// this instant.
func (r *Recorder) Start(descriptor string) error {
	if r.running.Load() {
		return fmt.Errorf("recorder already running")
	}

	vc, ac := r.cfg.Video, r.cfg.Audio
	slg := logging.WithSession(log, r.sessionID)

	snk, err := sink.New(descriptor, sink.Config{
		Width:    vc.Width,
		Height:   vc.Height,
		Channels: ac.Channels,
		Timing:   sink.Timing{SampleRate: ac.SampleRate, FrameRate: vc.FrameRate},
	})
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	videoEnc, err := codec.NewVideoEncoder(codec.VideoConfig{
		Width:          vc.Width,
		Height:         vc.Height,
		FPS:            vc.FrameRate,
		Bitrate:        vc.Bitrate,
		Quality:        codec.QualityPreset(vc.Quality),
		PreferHardware: vc.PreferHardware,
	})
	if err != nil {
		return fmt.Errorf("video encoder: %w", err)
	}
	audioEnc, err := codec.NewAudioEncoder(ac.SampleRate, ac.Channels, ac.Bitrate)
	if err != nil {
		videoEnc.Close()
		return fmt.Errorf("audio encoder: %w", err)
	}

	r.buf = buffer.New(r.cfg.Buffer.MaxPackets,
		time.Duration(r.cfg.Buffer.MaxLatencyMs)*time.Millisecond)
	r.snk = snk
	r.videoEnc = videoEnc
	r.audioEnc = audioEnc

	rc := r.cfg.Reconnect
	r.mon = sink.NewMonitor(snk, r.buf, sink.ReconnectConfig{
		InitialBackoff: time.Duration(rc.InitialBackoffMs) * time.Millisecond,
		BackoffFactor:  rc.BackoffFactor,
		MaxBackoff:     time.Duration(rc.MaxBackoffMs) * time.Millisecond,
		JitterFactor:   rc.JitterFactor,
		MaxRetries:     rc.MaxRetries,
	}, func(err error) {
		select {
		case r.fatal <- err:
		default:
		}
	})
	if err := r.mon.Start(); err != nil {
		videoEnc.Close()
		return err
	}
	r.writer = sink.NewWriter(snk, r.buf, r.mon)

	r.clk = clock.New(ac.SampleRate, vc.FrameRate)
	r.audioEng = audio.NewEngine(r.clk, ac.Channels, r.emitAudio)
	r.slot = &video.FrameSlot{}
	r.timeline = video.NewTimeline(r.clk, r.slot, vc.Width, vc.Height, r.encodeVideo)

	if err := r.startSources(); err != nil {
		r.mon.Stop()
		videoEnc.Close()
		return err
	}

	r.done = make(chan struct{})
	r.startedAt = time.Now()
	r.writer.Start()
	r.wg.Add(1)
	go r.tickLoop()

	r.running.Store(true)
	name, hw := videoEnc.Backend()
	slg.Info("recording started", "sink", snk.Target(),
		"width", vc.Width, "height", vc.Height, "fps", vc.FrameRate,
		"sampleRate", ac.SampleRate, "channels", ac.Channels,
		"videoBackend", name, "hardware", hw)
	return nil
}

func (r *Recorder) startSources() error {
	if r.sources.Desktop != nil {
		if err := r.audioEng.AddSource("desktop", audio.GainDesktop, r.sources.Desktop.SampleRate()); err != nil {
			return err
		}
		if err := r.sources.Desktop.Start(func(samples []int16) {
			r.audioEng.Feed("desktop", samples)
		}); err != nil {
			return fmt.Errorf("start desktop audio: %w", err)
		}
	}
	if r.sources.Microphone != nil {
		if err := r.audioEng.AddSource("microphone", audio.GainMicrophone, r.sources.Microphone.SampleRate()); err != nil {
			r.stopSources()
			return err
		}
		if err := r.sources.Microphone.Start(func(samples []int16) {
			r.audioEng.Feed("microphone", samples)
		}); err != nil {
			r.stopSources()
			return fmt.Errorf("start microphone audio: %w", err)
		}
	}
	if err := r.sources.Video.Start(r.slot.Store); err != nil {
		r.stopSources()
		return fmt.Errorf("start video source: %w", err)
	}
	return nil
}

func (r *Recorder) stopSources() {
	if r.sources.Video != nil {
		r.sources.Video.Stop()
	}
	if r.sources.Desktop != nil {
		r.sources.Desktop.Stop()
	}
	if r.sources.Microphone != nil {
		r.sources.Microphone.Stop()
	}
}

// tickLoop drives both the audio mixer and the video timeline from a single
// scheduler goroutine, preserving the clock-master ordering: audio first,
// then video, each deriving its own deficit from the same instant.
func (r *Recorder) tickLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(audioTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.audioEng.Tick(now)
			r.timeline.Tick(now)
		}
	}
}

// emitAudio encodes one mixed chunk and queues the resulting packets. Audio
// is never dropped here: the buffer accepts audio unconditionally.
func (r *Recorder) emitAudio(chunk *media.PCMChunk) {
	pkts, err := r.audioEnc.Encode(chunk)
	if err != nil {
		log.Warn("audio encode failed", "error", err)
		return
	}
	r.packetsEncoded.Add(int64(len(pkts)))
	for _, p := range pkts {
		r.buf.TryEnqueue(p)
	}
}

// encodeVideo encodes one timeline frame and queues it. While drop mode is
// active the encode is skipped entirely; paying the encode cost for a packet
// the buffer will reject is wasted work.
func (r *Recorder) encodeVideo(frame *media.RawFrame, frameIndex int64) error {
	if r.buf.Backpressure() {
		r.videoSkipped.Add(1)
		return nil
	}
	pkt, err := r.videoEnc.Encode(frame, frameIndex)
	if err != nil {
		return err
	}
	r.packetsEncoded.Add(1)
	r.buf.TryEnqueue(pkt)
	return nil
}

// Stop tears the session down in dependency order: sources stop feeding,
// the tick loop stops producing, the writer stops draining, the monitor
// closes the sink, and the encoders release their state.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if !r.running.Load() {
			return
		}
		r.running.Store(false)

		r.stopSources()
		close(r.done)
		r.wg.Wait()
		r.writer.Stop()
		r.buf.Close()
		r.mon.Stop()
		if err := r.videoEnc.Close(); err != nil {
			log.Warn("video encoder close failed", "error", err)
		}

		s := r.Stats()
		logging.WithSession(log, r.sessionID).Info("recording stopped",
			"durationMs", time.Since(r.startedAt).Milliseconds(),
			"framesProduced", s.FrameIndex,
			"audioFrames", s.AudioFramesEmitted,
			"packetsWritten", s.PacketsWritten,
			"bytesWritten", s.BytesWritten,
			"videoDropped", s.VideoPacketsDropped,
			"reconnects", s.Reconnects)
	})
}

// Stats is a point-in-time snapshot of the session counters. The drop
// counters aggregate every way a packet can be lost: rejected by the buffer,
// skipped under backpressure, or discarded by the writer during an outage.
type Stats struct {
	SessionID           string
	FramesCaptured      int64
	FrameIndex          int64
	DuplicatedFrames    int64
	BlankFrames         int64
	EncodeErrors        int64
	AudioFramesEmitted  int64
	MalformedFeeds      int64
	PacketsEncoded      int64
	PacketsWritten      int64
	BytesWritten        int64
	VideoPacketsDropped int64
	AudioPacketsDropped int64
	BufferSize          int
	Backpressure        bool
	SinkState           sink.State
	Reconnects          int64
}

func (r *Recorder) Stats() Stats {
	if r.timeline == nil {
		return Stats{SessionID: r.sessionID, SinkState: sink.StateDisconnected}
	}
	return Stats{
		SessionID:           r.sessionID,
		FramesCaptured:      int64(r.slot.Stored()),
		FrameIndex:          r.timeline.FrameIndex(),
		DuplicatedFrames:    r.timeline.DuplicatedFrames(),
		BlankFrames:         r.timeline.BlankFrames(),
		EncodeErrors:        r.timeline.EncodeErrors(),
		AudioFramesEmitted:  r.audioEng.EmittedFrames(),
		MalformedFeeds:      r.audioEng.MalformedFeeds(),
		PacketsEncoded:      r.packetsEncoded.Load(),
		PacketsWritten:      r.writer.PacketsWritten(),
		BytesWritten:        r.writer.BytesWritten(),
		VideoPacketsDropped: r.buf.DroppedVideo() + r.videoSkipped.Load() + r.writer.DiscardedVideo(),
		AudioPacketsDropped: r.buf.DroppedAudio() + r.writer.DiscardedAudio(),
		BufferSize:          r.buf.Size(),
		Backpressure:        r.buf.Backpressure(),
		SinkState:           r.mon.State(),
		Reconnects:          r.mon.Reconnects(),
	}
}
