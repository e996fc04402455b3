// Package clock owns the session's mapping from wall-clock time to expected
// audio sample frames and video frame indices. A SessionClock is created once
// at session start and is immutable for the session's lifetime.
package clock

import "time"

// SessionClock anchors the session to a monotonic origin. time.Since reads
// the monotonic part of the origin, so wall-clock adjustments never move
// session time.
type SessionClock struct {
	origin     time.Time
	sampleRate int
	frameRate  int
}

// New creates a clock anchored at now.
func New(sampleRate, frameRate int) *SessionClock {
	return &SessionClock{
		origin:     time.Now(),
		sampleRate: sampleRate,
		frameRate:  frameRate,
	}
}

// NewAt creates a clock anchored at the given origin. Used by tests to
// control elapsed time precisely.
func NewAt(origin time.Time, sampleRate, frameRate int) *SessionClock {
	return &SessionClock{
		origin:     origin,
		sampleRate: sampleRate,
		frameRate:  frameRate,
	}
}

func (c *SessionClock) SampleRate() int { return c.sampleRate }
func (c *SessionClock) FrameRate() int  { return c.frameRate }

// Elapsed returns the time since session start.
func (c *SessionClock) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.origin)
}

// ExpectedSampleFrames returns floor(elapsed * sampleRate): the number of
// audio sample frames the session should have emitted by now.
func (c *SessionClock) ExpectedSampleFrames(now time.Time) int64 {
	return expectedCount(now.Sub(c.origin), c.sampleRate)
}

// ExpectedFrameIndex returns floor(elapsed * frameRate): the video frame
// index the session should have reached by now.
func (c *SessionClock) ExpectedFrameIndex(now time.Time) int64 {
	return expectedCount(now.Sub(c.origin), c.frameRate)
}

// expectedCount computes floor(elapsed * rate / 1s). The whole-second and
// sub-second parts are scaled separately: multiplying the raw nanosecond
// count by the sample rate would overflow int64 a couple of days into a
// session.
func expectedCount(elapsed time.Duration, rate int) int64 {
	if elapsed <= 0 {
		return 0
	}
	sec := int64(elapsed / time.Second)
	rem := int64(elapsed % time.Second)
	return sec*int64(rate) + rem*int64(rate)/int64(time.Second)
}
