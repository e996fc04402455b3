package video

import (
	"sync"

	"github.com/big21ray/ionia-sub002/internal/media"
)

// FrameSlot holds the most recently captured frame. Capture overwrites it
// from its own goroutine; the timeline takes it at tick time. There is
// exactly one slot per session — a slow timeline sees only the newest
// picture, never a backlog.
type FrameSlot struct {
	mu     sync.Mutex
	frame  *media.RawFrame
	fresh  bool
	stored uint64
}

// Store publishes a captured frame, replacing any unconsumed one.
// Non-blocking; safe from any goroutine.
func (s *FrameSlot) Store(frame *media.RawFrame) {
	s.mu.Lock()
	s.frame = frame
	s.fresh = true
	s.stored++
	s.mu.Unlock()
}

// Take returns the current frame and whether it is fresh (unconsumed since
// the last Take). The frame itself stays available as the last-good frame
// for duplication.
func (s *FrameSlot) Take() (*media.RawFrame, bool) {
	s.mu.Lock()
	frame, fresh := s.frame, s.fresh
	s.fresh = false
	s.mu.Unlock()
	return frame, fresh
}

// Stored returns how many frames capture has pushed into the slot.
func (s *FrameSlot) Stored() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}
