package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/big21ray/ionia-sub002/internal/media"
)

func TestPatternVideoSourceDeliversFrames(t *testing.T) {
	src := NewPatternVideoSource(64, 32, 100)

	var mu sync.Mutex
	var frames []*media.RawFrame
	err := src.Start(func(f *media.RawFrame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	src.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want at least 3", len(frames))
	}
	f := frames[0]
	if f.Width != 64 || f.Height != 32 || f.Format != media.FormatBGRA {
		t.Fatalf("frame geometry %dx%d format %d", f.Width, f.Height, f.Format)
	}
	if len(f.Pixels) != 64*32*4 {
		t.Fatalf("pixel buffer %d bytes, want %d", len(f.Pixels), 64*32*4)
	}
	if f.CaptureTime.IsZero() {
		t.Fatal("capture time not stamped")
	}
	// The moving square makes consecutive frames differ.
	same := true
	for i := range frames[0].Pixels {
		if frames[0].Pixels[i] != frames[2].Pixels[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("pattern is static; the square is not moving")
	}
}

func TestPatternRendersColorBars(t *testing.T) {
	src := NewPatternVideoSource(80, 8, 30)
	f := src.render(0)

	// First bar is white, last is black (checked away from the square row).
	pi := 0
	if f.Pixels[pi] != 255 || f.Pixels[pi+1] != 255 || f.Pixels[pi+2] != 255 {
		t.Fatal("leftmost bar is not white")
	}
	pi = (79) * 4
	if f.Pixels[pi] != 0 || f.Pixels[pi+1] != 0 || f.Pixels[pi+2] != 0 {
		t.Fatal("rightmost bar is not black")
	}
}

func TestToneAudioSourceEmitsChunks(t *testing.T) {
	src := NewToneAudioSource("tone", 48000, 2, 440)

	var mu sync.Mutex
	var total int
	var nonZero bool
	err := src.Start(func(samples []int16) {
		mu.Lock()
		total += len(samples)
		for _, s := range samples {
			if s != 0 {
				nonZero = true
				break
			}
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := total
		mu.Unlock()
		if n >= 480*2*3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	src.Stop()

	mu.Lock()
	defer mu.Unlock()
	if total == 0 {
		t.Fatal("no samples emitted")
	}
	if total%(480*2) != 0 {
		t.Fatalf("emitted %d samples, not a multiple of one 10ms stereo chunk", total)
	}
	if !nonZero {
		t.Fatal("tone is silent")
	}
}

func TestSourcesStopIdempotently(t *testing.T) {
	v := NewPatternVideoSource(16, 16, 30)
	v.Start(func(*media.RawFrame) {})
	v.Stop()
	v.Stop()

	a := NewToneAudioSource("tone", 48000, 1, 440)
	a.Start(func([]int16) {})
	a.Stop()
	a.Stop()
}
