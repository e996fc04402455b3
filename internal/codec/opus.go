package codec

import (
	"errors"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/big21ray/ionia-sub002/internal/media"
)

// Opus only accepts fixed frame durations; 20ms is the streaming default.
const opusFrameMs = 20

// maxOpusPacket bounds one encoded Opus frame (hard codec limit is 1275
// bytes per frame, padded generously).
const maxOpusPacket = 4000

// opusEncoder is the slice of the Opus API the audio encoder needs. Tests
// substitute a stub so they run without the native codec.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// AudioEncoder re-frames the mixer's variable-size PCM chunks into exact
// 20ms Opus frames. The mixer emits whatever the clock demands per tick;
// Opus demands fixed frame sizes, so samples accumulate here until a full
// frame is available. PTS is carried through in sample frames.
type AudioEncoder struct {
	enc        opusEncoder
	sampleRate int
	channels   int
	frameSize  int // sample frames per Opus frame

	pending []int16
	nextPTS int64
	primed  bool

	buf []byte
}

// NewAudioEncoder creates an Opus encoder for interleaved PCM at the given
// rate. Bitrate 0 keeps the library default.
func NewAudioEncoder(sampleRate, channels, bitrate int) (*AudioEncoder, error) {
	if sampleRate <= 0 || channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported audio geometry: %d Hz, %d channels", sampleRate, channels)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("initialize opus: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate: %w", err)
		}
	}
	return newAudioEncoderWith(enc, sampleRate, channels), nil
}

func newAudioEncoderWith(enc opusEncoder, sampleRate, channels int) *AudioEncoder {
	frameSize := sampleRate * opusFrameMs / 1000
	return &AudioEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		buf:        make([]byte, maxOpusPacket),
	}
}

// Encode consumes one PCM chunk and returns a packet per completed Opus
// frame, possibly none. Leftover samples stay pending for the next call.
func (a *AudioEncoder) Encode(chunk *media.PCMChunk) ([]*media.Packet, error) {
	if chunk == nil || chunk.FrameCount == 0 {
		return nil, nil
	}
	if chunk.Channels != a.channels || chunk.SampleRate != a.sampleRate {
		return nil, fmt.Errorf("chunk geometry %d Hz/%dch does not match encoder %d Hz/%dch",
			chunk.SampleRate, chunk.Channels, a.sampleRate, a.channels)
	}
	if len(chunk.Samples) != chunk.FrameCount*chunk.Channels {
		return nil, errors.New("chunk sample count does not match frame count")
	}

	pendingFrames := len(a.pending) / a.channels
	if !a.primed {
		a.nextPTS = chunk.PTS
		a.primed = true
	} else if chunk.PTS != a.nextPTS+int64(pendingFrames) {
		// Upstream guarantees gapless PTS; a mismatch means the pipeline was
		// reset, so restart framing at the new position.
		log.Warn("audio PTS discontinuity, resetting opus framing",
			"expected", a.nextPTS+int64(pendingFrames), "got", chunk.PTS)
		a.pending = a.pending[:0]
		a.nextPTS = chunk.PTS
	}

	a.pending = append(a.pending, chunk.Samples...)

	var packets []*media.Packet
	need := a.frameSize * a.channels
	for len(a.pending) >= need {
		n, err := a.enc.Encode(a.pending[:need], a.buf)
		if err != nil {
			return packets, fmt.Errorf("opus encode: %w", err)
		}
		packets = append(packets, &media.Packet{
			Kind:     media.StreamAudio,
			Data:     append([]byte(nil), a.buf[:n]...),
			PTS:      a.nextPTS,
			DTS:      a.nextPTS,
			Duration: int64(a.frameSize),
		})
		a.pending = a.pending[need:]
		a.nextPTS += int64(a.frameSize)
	}
	return packets, nil
}

// PendingFrames returns the sample frames buffered awaiting a full Opus frame.
func (a *AudioEncoder) PendingFrames() int {
	return len(a.pending) / a.channels
}
