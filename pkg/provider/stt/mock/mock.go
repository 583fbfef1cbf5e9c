// Package mock is an stt.Provider for tests of microphone capture.
//
// Tests drive the learner's speech through the Session:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	sess.Murmur("I would")
//	sess.Say("I would like a latte")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// ErrClosed is returned by SendAudio after Close.
var ErrClosed = errors.New("mock: session is closed")

// StartStreamCall records one StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider implements stt.Provider.
type Provider struct {
	// Session is handed out by StartStream. Nil hands out a new Session per
	// call.
	Session        stt.SessionHandle
	StartStreamErr error

	mu    sync.Mutex
	calls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.calls...)
}

// Session implements stt.SessionHandle. Tests may send on PartialsCh and
// FinalsCh directly or use Murmur and Say.
type Session struct {
	PartialsCh chan types.Transcript
	FinalsCh   chan types.Transcript

	// SendAudioErr is returned by every SendAudio on an open session.
	SendAudioErr error
	CloseErr     error

	// SendAudioCalls holds a copy of every accepted chunk.
	SendAudioCalls [][]byte

	mu     sync.Mutex
	closes int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with room for 16 transcripts per channel.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}
}

// Murmur emits an interim transcript.
func (s *Session) Murmur(text string) {
	s.PartialsCh <- types.Transcript{Text: text}
}

// Say emits a final transcript.
func (s *Session) Say(text string) {
	s.FinalsCh <- types.Transcript{Text: text, IsFinal: true}
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return ErrClosed
	}
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan types.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan types.Transcript { return s.FinalsCh }

// SendAudioCallCount returns how many chunks were accepted.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Close closes both channels on the first call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.PartialsCh)
		close(s.FinalsCh)
	}
	return s.CloseErr
}
