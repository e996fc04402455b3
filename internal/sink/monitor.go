package sink

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/big21ray/ionia-sub002/internal/buffer"
)

// State is the sink connection state.
type State int32

const (
	StateConnected State = iota
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReconnectConfig tunes the retry schedule.
type ReconnectConfig struct {
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration
	JitterFactor   float64
	MaxRetries     int
}

// DefaultReconnectConfig returns the production retry schedule: 1s doubling
// to a 30s ceiling, ten attempts before giving up.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialBackoff: 1 * time.Second,
		BackoffFactor:  2.0,
		MaxBackoff:     30 * time.Second,
		JitterFactor:   0.3,
		MaxRetries:     10,
	}
}

// Monitor owns the sink connection lifecycle. The writer reports a failed
// write; the monitor transitions to Disconnected, then drives reconnection
// with exponential backoff. On success the buffer is cleared so transmission
// resumes at the live position with no stale replay. After MaxRetries
// consecutive failures the monitor transitions to Closed and fires onFatal.
type Monitor struct {
	sink Sink
	buf  *buffer.Buffer
	cfg  ReconnectConfig

	state   atomic.Int32
	failure chan error
	done    chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup

	reconnects atomic.Int64
	generation atomic.Int64
	onFatal    func(error)
}

// NewMonitor wires a monitor to a sink and the buffer it must clear on
// reconnect. onFatal may be nil.
func NewMonitor(s Sink, buf *buffer.Buffer, cfg ReconnectConfig, onFatal func(error)) *Monitor {
	m := &Monitor{
		sink:    s,
		buf:     buf,
		cfg:     cfg,
		failure: make(chan error, 1),
		done:    make(chan struct{}),
		onFatal: onFatal,
	}
	m.state.Store(int32(StateDisconnected))
	return m
}

// Start opens the sink and launches the supervision loop. A failed initial
// open is returned to the caller rather than retried; retry policy applies
// only to connections that were once up.
func (m *Monitor) Start() error {
	if err := m.sink.Open(); err != nil {
		m.state.Store(int32(StateClosed))
		return fmt.Errorf("open sink %s: %w", m.sink.Target(), err)
	}
	m.generation.Add(1)
	m.state.Store(int32(StateConnected))

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop tears the monitor down and closes the sink.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.state.Store(int32(StateClosed))
		if err := m.sink.Close(); err != nil {
			log.Warn("sink close failed", "sink", m.sink.Target(), "error", err)
		}
	})
}

// State returns the current connection state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// Reconnects returns how many times the sink was successfully re-opened.
func (m *Monitor) Reconnects() int64 { return m.reconnects.Load() }

// Generation identifies the current connection. It advances each time the
// sink is opened, always before the state turns Connected, so a packet
// dequeued against an older generation belongs to a connection that has
// since been torn down.
func (m *Monitor) Generation() int64 { return m.generation.Load() }

// ReportFailure is called by the writer when a sink write fails. Non-blocking;
// while a reconnect is already in progress further reports are dropped.
func (m *Monitor) ReportFailure(err error) {
	if m.State() != StateConnected {
		return
	}
	select {
	case m.failure <- err:
	default:
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case err := <-m.failure:
			if m.State() != StateConnected {
				continue
			}
			m.state.Store(int32(StateDisconnected))
			log.Warn("sink write failed, connection lost",
				"sink", m.sink.Target(), "error", err)
			if !m.reconnect() {
				return
			}
		}
	}
}

// reconnect drives the retry loop. Returns false when the monitor gave up
// or was stopped.
func (m *Monitor) reconnect() bool {
	m.sink.Close()
	m.state.Store(int32(StateReconnecting))

	backoff := m.cfg.InitialBackoff
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		jitter := time.Duration(float64(backoff) * m.cfg.JitterFactor * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		log.Info("reconnecting to sink", "sink", m.sink.Target(),
			"attempt", attempt, "maxRetries", m.cfg.MaxRetries, "delay", sleep)
		select {
		case <-m.done:
			return false
		case <-time.After(sleep):
		}

		if err := m.sink.Open(); err != nil {
			log.Warn("reconnect attempt failed", "sink", m.sink.Target(),
				"attempt", attempt, "error", err)
			backoff = time.Duration(float64(backoff) * m.cfg.BackoffFactor)
			if backoff > m.cfg.MaxBackoff {
				backoff = m.cfg.MaxBackoff
			}
			continue
		}

		// Stale packets queued during the outage are discarded, not
		// replayed; the stream resumes at the live position. The
		// generation advances after the clear and before the state
		// flips, so a packet the writer pulled out just before the
		// clear can never pass both checks.
		discarded := m.buf.Clear()
		m.generation.Add(1)
		m.reconnects.Add(1)
		m.state.Store(int32(StateConnected))
		log.Info("sink reconnected", "sink", m.sink.Target(),
			"attempt", attempt, "discardedPackets", discarded)
		return true
	}

	m.state.Store(int32(StateClosed))
	err := fmt.Errorf("sink %s unreachable after %d attempts", m.sink.Target(), m.cfg.MaxRetries)
	log.Error("giving up on sink", "sink", m.sink.Target(), "maxRetries", m.cfg.MaxRetries)
	if m.onFatal != nil {
		m.onFatal(err)
	}
	return false
}
