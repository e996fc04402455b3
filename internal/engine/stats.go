package engine

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// StatsLogger periodically logs a session snapshot together with process
// CPU and memory usage, so a long recording leaves a resource trail in the
// logs without an external metrics stack.
type StatsLogger struct {
	rec      *Recorder
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewStatsLogger(rec *Recorder, interval time.Duration) *StatsLogger {
	return &StatsLogger{
		rec:      rec,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *StatsLogger) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *StatsLogger) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *StatsLogger) run() {
	defer s.wg.Done()

	proc, procErr := process.NewProcess(int32(os.Getpid()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			st := s.rec.Stats()
			args := []any{
				"session", st.SessionID,
				"framesCaptured", st.FramesCaptured,
				"frameIndex", st.FrameIndex,
				"duplicated", st.DuplicatedFrames,
				"blanks", st.BlankFrames,
				"audioFrames", st.AudioFramesEmitted,
				"packetsEncoded", st.PacketsEncoded,
				"packetsWritten", st.PacketsWritten,
				"bytesWritten", st.BytesWritten,
				"videoDropped", st.VideoPacketsDropped,
				"bufferSize", st.BufferSize,
				"backpressure", st.Backpressure,
				"sinkState", st.SinkState.String(),
				"reconnects", st.Reconnects,
			}
			if procErr == nil {
				if cpu, err := proc.CPUPercent(); err == nil {
					args = append(args, "cpuPercent", cpu)
				}
				if mem, err := proc.MemoryInfo(); err == nil {
					args = append(args, "rssMB", mem.RSS/1024/1024)
				}
			}
			log.Info("session stats", args...)
		}
	}
}
