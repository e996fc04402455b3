// Package media defines the data types that flow through the recording
// pipeline, from capture through encoding to the output sink.
package media

import "time"

// StreamKind identifies which elementary stream a packet belongs to.
type StreamKind int

const (
	StreamAudio StreamKind = iota
	StreamVideo
)

func (k StreamKind) String() string {
	if k == StreamVideo {
		return "video"
	}
	return "audio"
}

// Packet is one encoded unit ready for muxing or transmission. Timestamps
// are in stream-native units: sample frames for audio, frame indices for
// video. Audio packets always have DTS == PTS (no reordering); PTS is
// non-decreasing within a stream.
type Packet struct {
	Kind     StreamKind
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
	Keyframe bool
}

// PCMChunk is one mixed block of interleaved int16 samples handed to the
// audio encoder. FrameCount is samples per channel; PTS is the index of the
// first sample frame since session start.
type PCMChunk struct {
	Samples    []int16
	FrameCount int
	Channels   int
	SampleRate int
	PTS        int64
}

// PixelFormat describes the layout of a raw captured frame.
type PixelFormat int

const (
	FormatBGRA PixelFormat = iota
	FormatRGBA
)

// RawFrame is one captured picture. Pixels is tightly packed
// (width*height*4 bytes for BGRA/RGBA).
type RawFrame struct {
	Pixels      []byte
	Width       int
	Height      int
	Format      PixelFormat
	CaptureTime time.Time
}
