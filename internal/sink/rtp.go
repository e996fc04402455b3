package sink

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/big21ray/ionia-sub002/internal/media"
)

const (
	rtpMTU = 1200

	// Dynamic payload types, matching common SDP offers.
	rtpPayloadH264 = 96
	rtpPayloadOpus = 111

	videoClockRate = 90000
)

// rtpSink packetizes the streams as RTP over UDP. Video goes to the
// descriptor's port, audio to port+2 (the conventional adjacent-pair
// layout). No RTCP; the receiver is expected to tolerate loss.
type rtpSink struct {
	host      string
	videoAddr string
	audioAddr string
	cfg       Config

	mu        sync.Mutex
	videoConn net.Conn
	audioConn net.Conn
	videoPkt  rtp.Packetizer
	audioPkt  rtp.Packetizer

	videoSamples uint32
	audioSamples uint32
}

func newRTPSink(descriptor string, cfg Config) (*rtpSink, error) {
	hostport := strings.TrimPrefix(descriptor, "rtp://")
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("rtp descriptor %q: %w", descriptor, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65533 {
		return nil, fmt.Errorf("rtp descriptor %q: bad port %q", descriptor, portStr)
	}

	return &rtpSink{
		host:      hostport,
		videoAddr: net.JoinHostPort(host, strconv.Itoa(port)),
		audioAddr: net.JoinHostPort(host, strconv.Itoa(port+2)),
		cfg:       cfg,
		// Per-packet timestamp increments at the respective clock rates.
		videoSamples: uint32(videoClockRate / cfg.Timing.FrameRate),
		audioSamples: uint32(opusSamplesPerFrame(cfg.Timing.SampleRate)),
	}, nil
}

func opusSamplesPerFrame(sampleRate int) int {
	return sampleRate * 20 / 1000
}

func (r *rtpSink) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.videoConn != nil {
		return nil
	}

	videoConn, err := net.Dial("udp", r.videoAddr)
	if err != nil {
		return fmt.Errorf("dial rtp video %s: %w", r.videoAddr, err)
	}
	audioConn, err := net.Dial("udp", r.audioAddr)
	if err != nil {
		videoConn.Close()
		return fmt.Errorf("dial rtp audio %s: %w", r.audioAddr, err)
	}

	r.videoConn = videoConn
	r.audioConn = audioConn
	r.videoPkt = rtp.NewPacketizer(rtpMTU, rtpPayloadH264, rand.Uint32(),
		&codecs.H264Payloader{}, rtp.NewRandomSequencer(), videoClockRate)
	r.audioPkt = rtp.NewPacketizer(rtpMTU, rtpPayloadOpus, rand.Uint32(),
		&codecs.OpusPayloader{}, rtp.NewRandomSequencer(), uint32(r.cfg.Timing.SampleRate))

	log.Info("rtp sink opened", "video", r.videoAddr, "audio", r.audioAddr)
	return nil
}

func (r *rtpSink) WritePacket(p *media.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.videoConn == nil {
		return fmt.Errorf("rtp sink not open")
	}

	var pkts []*rtp.Packet
	var conn net.Conn
	if p.Kind == media.StreamVideo {
		pkts = r.videoPkt.Packetize(p.Data, r.videoSamples)
		conn = r.videoConn
	} else {
		pkts = r.audioPkt.Packetize(p.Data, r.audioSamples)
		conn = r.audioConn
	}

	for _, pkt := range pkts {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshal rtp packet: %w", err)
		}
		if _, err := conn.Write(raw); err != nil {
			return fmt.Errorf("rtp %s write: %w", p.Kind, err)
		}
	}
	return nil
}

func (r *rtpSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	if r.videoConn != nil {
		if err := r.videoConn.Close(); err != nil {
			firstErr = err
		}
		r.videoConn = nil
	}
	if r.audioConn != nil {
		if err := r.audioConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.audioConn = nil
	}
	r.videoPkt, r.audioPkt = nil, nil
	return firstErr
}

func (r *rtpSink) Target() string { return "rtp://" + r.host }
