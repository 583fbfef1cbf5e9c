package capture

import (
	"context"
	"sync"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// Source supplies microphone frames for one capture at a time.
type Source interface {
	// Open starts a capture and returns its frame channel. The channel is
	// closed by Close.
	Open(ctx context.Context) (<-chan types.AudioFrame, error)

	// Close ends the current capture. Calling it without an open capture is a
	// no-op.
	Close() error
}

// ChanSource is a Source fed by Push, used by transports that receive audio
// from a remote client.
type ChanSource struct {
	mu     sync.Mutex
	buf    int
	ch     chan types.AudioFrame
	denied bool
}

// NewChanSource returns a ChanSource buffering up to buf frames.
func NewChanSource(buf int) *ChanSource {
	if buf <= 0 {
		buf = 64
	}
	return &ChanSource{buf: buf}
}

// Open implements Source.
func (s *ChanSource) Open(ctx context.Context) (<-chan types.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied {
		return nil, ErrPermissionDenied
	}
	if s.ch != nil {
		close(s.ch)
	}
	s.ch = make(chan types.AudioFrame, s.buf)
	return s.ch, nil
}

// Push delivers frame to the open capture. It drops the frame and returns
// false when no capture is open or the buffer is full.
func (s *ChanSource) Push(frame types.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return false
	}
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

// SetDenied records the client's microphone permission. While denied, Open
// fails with ErrPermissionDenied.
func (s *ChanSource) SetDenied(denied bool) {
	s.mu.Lock()
	s.denied = denied
	s.mu.Unlock()
}

// Close implements Source.
func (s *ChanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	return nil
}

var _ Source = (*ChanSource)(nil)
