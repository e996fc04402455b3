package config

import (
	"fmt"
)

// Validate rejects configurations the pipeline cannot run with. Checks are
// exhaustive rather than failing on first use deep inside the engine.
func (c *Config) Validate() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video: invalid geometry %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return fmt.Errorf("video: geometry %dx%d must be even for 4:2:0 encoding", c.Video.Width, c.Video.Height)
	}
	if c.Video.FrameRate <= 0 || c.Video.FrameRate > 240 {
		return fmt.Errorf("video: frame_rate %d out of range (1-240)", c.Video.FrameRate)
	}
	if c.Video.Bitrate <= 0 {
		return fmt.Errorf("video: bitrate must be positive, got %d", c.Video.Bitrate)
	}
	switch c.Video.Quality {
	case "auto", "low", "medium", "high":
	default:
		return fmt.Errorf("video: quality %q, want auto, low, medium or high", c.Video.Quality)
	}

	switch c.Audio.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		// Opus-supported rates only.
	default:
		return fmt.Errorf("audio: sample_rate %d not supported by Opus", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio: channels %d, want 1 or 2", c.Audio.Channels)
	}
	if c.Audio.Bitrate <= 0 {
		return fmt.Errorf("audio: bitrate must be positive, got %d", c.Audio.Bitrate)
	}
	switch c.Audio.Sources {
	case SourcesDesktop, SourcesMicrophone, SourcesBoth:
	default:
		return fmt.Errorf("audio: sources %q, want %s, %s or %s",
			c.Audio.Sources, SourcesDesktop, SourcesMicrophone, SourcesBoth)
	}

	if c.Buffer.MaxPackets < 2 {
		return fmt.Errorf("buffer: max_packets %d, want at least 2", c.Buffer.MaxPackets)
	}
	if c.Buffer.MaxLatencyMs <= 0 {
		return fmt.Errorf("buffer: max_latency_ms must be positive, got %d", c.Buffer.MaxLatencyMs)
	}

	if c.Reconnect.InitialBackoffMs <= 0 {
		return fmt.Errorf("reconnect: initial_backoff_ms must be positive, got %d", c.Reconnect.InitialBackoffMs)
	}
	if c.Reconnect.BackoffFactor < 1.0 {
		return fmt.Errorf("reconnect: backoff_factor %.2f, want >= 1.0", c.Reconnect.BackoffFactor)
	}
	if c.Reconnect.MaxBackoffMs < c.Reconnect.InitialBackoffMs {
		return fmt.Errorf("reconnect: max_backoff_ms %d below initial_backoff_ms %d",
			c.Reconnect.MaxBackoffMs, c.Reconnect.InitialBackoffMs)
	}
	if c.Reconnect.JitterFactor < 0 || c.Reconnect.JitterFactor >= 1 {
		return fmt.Errorf("reconnect: jitter_factor %.2f out of range [0, 1)", c.Reconnect.JitterFactor)
	}
	if c.Reconnect.MaxRetries < 1 {
		return fmt.Errorf("reconnect: max_retries %d, want at least 1", c.Reconnect.MaxRetries)
	}

	return nil
}
