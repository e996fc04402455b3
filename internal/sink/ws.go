package sink

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/big21ray/ionia-sub002/internal/media"
)

const (
	wsWriteWait        = 10 * time.Second
	wsHandshakeTimeout = 10 * time.Second
)

// Binary frame layout: [1 byte kind][1 byte flags][8 byte BE timestamp ms][payload].
const (
	wsFrameVideo = 0x01
	wsFrameAudio = 0x02

	wsFlagKeyframe = 0x01

	wsHeaderLen = 10
)

// wsSink streams packets over a WebSocket as binary messages. One message
// per packet; the receiver demuxes on the kind byte.
type wsSink struct {
	url string
	cfg Config

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSSink(url string, cfg Config) *wsSink {
	return &wsSink{url: url, cfg: cfg}
}

func (w *wsSink) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.Dial(w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	w.conn = conn
	log.Info("websocket sink connected", "url", w.url)
	return nil
}

func (w *wsSink) WritePacket(p *media.Packet) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket sink not connected")
	}

	msg := make([]byte, wsHeaderLen+len(p.Data))
	if p.Kind == media.StreamVideo {
		msg[0] = wsFrameVideo
	} else {
		msg[0] = wsFrameAudio
	}
	if p.Keyframe {
		msg[1] = wsFlagKeyframe
	}
	binary.BigEndian.PutUint64(msg[2:10], uint64(w.cfg.Timing.PacketMillis(p)))
	copy(msg[wsHeaderLen:], p.Data)

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *wsSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *wsSink) Target() string { return w.url }
