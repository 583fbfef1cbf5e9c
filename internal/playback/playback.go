// Package playback hands decoded reply audio to an output and reports when
// it has finished.
//
// Play returns a Playback, a completion signal that can be cancelled. The
// session controller keeps at most one Playback alive and cancels it when a
// newer reply starts playing.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/flowtalk/pkg/audio"
)

// ErrCanceled is reported by Playback.Err after Cancel or context
// cancellation cut playback short.
var ErrCanceled = errors.New("playback: canceled")

// ErrNoSamples is returned by Play for a nil or empty buffer.
var ErrNoSamples = errors.New("playback: no samples")

// Player plays decoded audio.
type Player interface {
	// Play starts playing s and returns immediately. The Playback completes
	// when the audio has finished or was cancelled.
	Play(ctx context.Context, s *audio.Samples) (*Playback, error)
}

// Playback is an in-progress playback.
type Playback struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
}

// NewPlayback returns an unfinished Playback. Player implementations call
// Finish when output ends; cancel, if non-nil, is invoked by Cancel.
func NewPlayback(cancel context.CancelFunc) *Playback {
	return &Playback{done: make(chan struct{}), cancel: cancel}
}

// Done is closed when playback ends for any reason.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err returns nil after normal completion, ErrCanceled after cancellation,
// or an output error. It is only meaningful after Done is closed.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Cancel stops playback. Calling it after completion is a no-op.
func (p *Playback) Cancel() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Finish(ErrCanceled)
}

// Finish completes the playback with err. Only the first call has effect.
func (p *Playback) Finish(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Wait blocks until playback ends or ctx is done.
func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is a Player that drops audio and completes at once.
type Discard struct{}

// Play implements Player.
func (Discard) Play(_ context.Context, s *audio.Samples) (*Playback, error) {
	if s == nil || len(s.Data) == 0 {
		return nil, ErrNoSamples
	}
	pb := NewPlayback(nil)
	pb.Finish(nil)
	return pb, nil
}

// Timed is a Player that produces no sound but completes after the buffer's
// playback duration, for outputs that play on a remote client.
type Timed struct{}

// Play implements Player.
func (Timed) Play(ctx context.Context, s *audio.Samples) (*Playback, error) {
	if s == nil || len(s.Data) == 0 {
		return nil, ErrNoSamples
	}
	ctx, cancel := context.WithCancel(ctx)
	pb := NewPlayback(cancel)
	go func() {
		t := time.NewTimer(s.Duration())
		defer t.Stop()
		select {
		case <-t.C:
			pb.Finish(nil)
		case <-ctx.Done():
			pb.Finish(ErrCanceled)
		}
	}()
	return pb, nil
}

var (
	_ Player = Discard{}
	_ Player = Timed{}
)
