package capture

import (
	"math"
	"sync"
	"time"

	"github.com/big21ray/ionia-sub002/internal/media"
)

// barColors are the classic vertical color bars, BGRA order.
var barColors = [8][4]byte{
	{255, 255, 255, 255}, // white
	{0, 255, 255, 255},   // yellow
	{255, 255, 0, 255},   // cyan
	{0, 255, 0, 255},     // green
	{255, 0, 255, 255},   // magenta
	{0, 0, 255, 255},     // red
	{255, 0, 0, 255},     // blue
	{0, 0, 0, 255},       // black
}

// PatternVideoSource generates color bars with a moving white square, useful
// for validating the pipeline end to end without a real display grab. The
// square advances one step per generated frame so duplicated frames are
// visible in the output.
type PatternVideoSource struct {
	width  int
	height int
	fps    int

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPatternVideoSource(width, height, fps int) *PatternVideoSource {
	return &PatternVideoSource{
		width:  width,
		height: height,
		fps:    fps,
		done:   make(chan struct{}),
	}
}

func (p *PatternVideoSource) Name() string { return "test-pattern" }

func (p *PatternVideoSource) Start(store func(frame *media.RawFrame)) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Second / time.Duration(p.fps))
		defer ticker.Stop()

		frameNo := 0
		for {
			select {
			case <-p.done:
				return
			case now := <-ticker.C:
				f := p.render(frameNo)
				f.CaptureTime = now
				store(f)
				frameNo++
			}
		}
	}()
	log.Info("test pattern video source started",
		"width", p.width, "height", p.height, "fps", p.fps)
	return nil
}

func (p *PatternVideoSource) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *PatternVideoSource) render(frameNo int) *media.RawFrame {
	pixels := make([]byte, p.width*p.height*4)
	barWidth := p.width / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}

	for y := 0; y < p.height; y++ {
		row := y * p.width * 4
		for x := 0; x < p.width; x++ {
			bar := x / barWidth
			if bar >= len(barColors) {
				bar = len(barColors) - 1
			}
			c := barColors[bar]
			pi := row + x*4
			pixels[pi+0] = c[0]
			pixels[pi+1] = c[1]
			pixels[pi+2] = c[2]
			pixels[pi+3] = c[3]
		}
	}

	drawSquare(pixels, p.width, p.height, frameNo)

	return &media.RawFrame{
		Pixels: pixels,
		Width:  p.width,
		Height: p.height,
		Format: media.FormatBGRA,
	}
}

// drawSquare overlays a white square that sweeps left to right, wrapping at
// the frame edge.
func drawSquare(pixels []byte, width, height, frameNo int) {
	size := height / 8
	if size < 1 {
		size = 1
	}
	span := width - size
	if span < 1 {
		span = 1
	}
	x0 := (frameNo * 4) % span
	y0 := (height - size) / 2

	for y := y0; y < y0+size && y < height; y++ {
		row := y * width * 4
		for x := x0; x < x0+size && x < width; x++ {
			pi := row + x*4
			pixels[pi+0] = 255
			pixels[pi+1] = 255
			pixels[pi+2] = 255
			pixels[pi+3] = 255
		}
	}
}

// ToneAudioSource emits a continuous sine tone in 10ms chunks, matching the
// cadence of a real capture callback.
type ToneAudioSource struct {
	name       string
	sampleRate int
	channels   int
	freq       float64
	amplitude  float64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewToneAudioSource(name string, sampleRate, channels int, freq float64) *ToneAudioSource {
	return &ToneAudioSource{
		name:       name,
		sampleRate: sampleRate,
		channels:   channels,
		freq:       freq,
		amplitude:  0.25,
		done:       make(chan struct{}),
	}
}

func (t *ToneAudioSource) Name() string    { return t.name }
func (t *ToneAudioSource) SampleRate() int { return t.sampleRate }
func (t *ToneAudioSource) Channels() int   { return t.channels }

func (t *ToneAudioSource) Start(emit func(samples []int16)) error {
	chunkFrames := t.sampleRate / 100 // 10ms

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		phase := 0.0
		step := 2 * math.Pi * t.freq / float64(t.sampleRate)
		buf := make([]int16, chunkFrames*t.channels)

		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				for i := 0; i < chunkFrames; i++ {
					s := int16(t.amplitude * math.Sin(phase) * 32767)
					for ch := 0; ch < t.channels; ch++ {
						buf[i*t.channels+ch] = s
					}
					phase += step
					if phase > 2*math.Pi {
						phase -= 2 * math.Pi
					}
				}
				out := make([]int16, len(buf))
				copy(out, buf)
				emit(out)
			}
		}
	}()
	log.Info("tone audio source started", "source", t.name,
		"sampleRate", t.sampleRate, "channels", t.channels, "freq", t.freq)
	return nil
}

func (t *ToneAudioSource) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
	})
}
