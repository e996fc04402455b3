// Package audio implements the session's clock master: it owns the mapping
// from elapsed wall-clock time to emitted sample frames, mixes all active
// sources into one PCM stream, and pads capture gaps with silence so the
// audio timeline never stalls and never runs ahead.
package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zaf/resample"

	"github.com/big21ray/ionia-sub002/internal/clock"
	"github.com/big21ray/ionia-sub002/internal/logging"
	"github.com/big21ray/ionia-sub002/internal/media"
)

var log = logging.L("audio")

// Per-source gains carried over from the production mix: the microphone runs
// slightly hot for voice level, desktop hotter still. When both sources are
// live the sum is attenuated by 6 dB to avoid hard-clipping crackle.
const (
	GainMicrophone = 1.2
	GainDesktop    = 1.8

	dualSourceAttenuation = 0.5

	// maxChunk bounds how much a single tick may emit, in wall time. A long
	// scheduler stall catches up gradually instead of bursting one giant
	// chunk into the encoder.
	maxChunk = 100 * time.Millisecond

	// Each ring holds ~500ms of audio; older samples are displaced.
	ringDuration = 500 * time.Millisecond
)

type source struct {
	id   string
	gain float64
	ring *sampleRing
	res  *resample.Resampler
	rate int
}

// EmitFunc receives each mixed chunk. Called from the tick goroutine only.
type EmitFunc func(*media.PCMChunk)

// Engine is the clock master. Feed is safe from any goroutine; Tick must be
// driven by exactly one scheduler goroutine.
type Engine struct {
	clk      *clock.SessionClock
	channels int
	emit     EmitFunc

	mu      sync.RWMutex
	sources map[string]*source

	emitted        atomic.Int64 // sample frames emitted so far
	malformedFeeds atomic.Int64

	maxChunkFrames int
	scratch        []int16
	mix            []int32
}

// NewEngine creates a clock master bound to the session clock.
func NewEngine(clk *clock.SessionClock, channels int, emit EmitFunc) *Engine {
	maxChunkFrames := int(int64(clk.SampleRate()) * int64(maxChunk) / int64(time.Second))
	return &Engine{
		clk:            clk,
		channels:       channels,
		emit:           emit,
		sources:        make(map[string]*source),
		maxChunkFrames: maxChunkFrames,
		scratch:        make([]int16, maxChunkFrames*channels),
		mix:            make([]int32, maxChunkFrames*channels),
	}
}

// AddSource registers a capture source. nativeRate is the rate the source
// delivers samples at; when it differs from the session rate the feed path
// resamples before buffering.
func (e *Engine) AddSource(id string, gain float64, nativeRate int) error {
	ringCap := int(int64(e.clk.SampleRate())*int64(ringDuration)/int64(time.Second)) * e.channels
	src := &source{
		id:   id,
		gain: gain,
		ring: newSampleRing(ringCap),
		rate: nativeRate,
	}

	if nativeRate != e.clk.SampleRate() {
		res, err := resample.New(&ringWriter{ring: src.ring},
			float64(nativeRate), float64(e.clk.SampleRate()),
			e.channels, resample.I16, resample.HighQ)
		if err != nil {
			return fmt.Errorf("resampler for source %s: %w", id, err)
		}
		src.res = res
	}

	e.mu.Lock()
	e.sources[id] = src
	e.mu.Unlock()

	log.Info("audio source registered", "source", id, "gain", gain, "rate", nativeRate)
	return nil
}

// Feed appends captured samples to the source's ring. Non-blocking and safe
// from any goroutine. A feed whose length is not a multiple of the channel
// stride is dropped with a warning; it never aborts the tick loop. Feeding
// nothing is a valid steady state — silence is generated at tick time.
func (e *Engine) Feed(sourceID string, samples []int16) {
	if len(samples) == 0 {
		return
	}
	if len(samples)%e.channels != 0 {
		e.malformedFeeds.Add(1)
		log.Warn("dropping malformed audio feed",
			"source", sourceID, "samples", len(samples), "channels", e.channels)
		return
	}

	e.mu.RLock()
	src := e.sources[sourceID]
	e.mu.RUnlock()
	if src == nil {
		e.malformedFeeds.Add(1)
		log.Warn("dropping feed for unknown audio source", "source", sourceID)
		return
	}

	if src.res != nil {
		buf := make([]byte, len(samples)*2)
		for i, s := range samples {
			buf[2*i] = byte(s)
			buf[2*i+1] = byte(uint16(s) >> 8)
		}
		if _, err := src.res.Write(buf); err != nil {
			log.Warn("resample failed, dropping feed", "source", sourceID, "error", err)
		}
		return
	}

	src.ring.write(samples)
}

// Tick emits all audio due at now. It computes the wall-clock-expected
// sample frame count and emits the deficit, clamped to maxChunk; if the
// session is on schedule it returns immediately. Audio is never emitted
// ahead of the wall clock.
func (e *Engine) Tick(now time.Time) {
	expected := e.clk.ExpectedSampleFrames(now)
	emitted := e.emitted.Load()
	toEmit := expected - emitted
	if toEmit <= 0 {
		return
	}
	if toEmit > int64(e.maxChunkFrames) {
		toEmit = int64(e.maxChunkFrames)
	}

	frames := int(toEmit)
	n := frames * e.channels
	mix := e.mix[:n]
	for i := range mix {
		mix[i] = 0
	}

	e.mu.RLock()
	active := 0
	for _, src := range e.sources {
		got := src.ring.readUpTo(e.scratch[:n])
		if got == 0 {
			continue // source deficit: contributes silence, not an error
		}
		active++
		for i := 0; i < got; i++ {
			mix[i] += int32(float64(e.scratch[i]) * src.gain)
		}
	}
	e.mu.RUnlock()

	out := make([]int16, n)
	atten := 1.0
	if active > 1 {
		atten = dualSourceAttenuation
	}
	for i, v := range mix {
		s := int32(float64(v) * atten)
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[i] = int16(s)
	}

	e.emit(&media.PCMChunk{
		Samples:    out,
		FrameCount: frames,
		Channels:   e.channels,
		SampleRate: e.clk.SampleRate(),
		PTS:        emitted,
	})
	e.emitted.Store(emitted + toEmit)
}

// EmittedFrames returns the number of sample frames emitted so far.
func (e *Engine) EmittedFrames() int64 { return e.emitted.Load() }

// MalformedFeeds returns the count of dropped malformed feeds.
func (e *Engine) MalformedFeeds() int64 { return e.malformedFeeds.Load() }
