// Package capture defines the narrow voice-input capability the session
// controller depends on and adapts streaming speech-to-text providers to it.
//
// A Recognizer reports transcribed text through callbacks. Stop is
// synchronous: when it returns, no further callbacks fire and the
// recognizer's goroutine has exited, so a caller can stop capture and then
// act on the final text without racing it.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned by Start when no speech recognition backend
	// is configured or it cannot be reached.
	ErrUnavailable = errors.New("capture: voice input unavailable")

	// ErrPermissionDenied is returned by Start when the audio source refuses
	// microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrActive is returned by Start while a capture is already running.
	ErrActive = errors.New("capture: already listening")
)

// Recognizer is a cancellable background listener that turns speech into
// text.
type Recognizer interface {
	// Start begins listening. It returns ErrUnavailable, ErrPermissionDenied
	// or ErrActive without starting.
	Start(ctx context.Context) error

	// Stop ends listening and returns once every callback has fired. It is a
	// no-op when not listening.
	Stop() error

	// Listening reports whether a capture is in progress.
	Listening() bool

	// OnPartialText registers the handler for interim text. The text is the
	// whole utterance so far, committed and interim parts together.
	OnPartialText(func(text string))

	// OnFinalText registers the handler for committed text. The text is
	// everything committed since Start.
	OnFinalText(func(text string))

	// OnError registers the handler for errors raised while listening.
	OnError(func(err error))

	// OnEnd registers the handler called once per capture when it ends.
	OnEnd(func())
}

// Unavailable is a Recognizer for deployments without speech recognition.
// Start always fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Start(context.Context) error { return ErrUnavailable }
func (Unavailable) Stop() error                 { return nil }
func (Unavailable) Listening() bool             { return false }
func (Unavailable) OnPartialText(func(string))  {}
func (Unavailable) OnFinalText(func(string))    {}
func (Unavailable) OnError(func(error))         {}
func (Unavailable) OnEnd(func())                {}

var _ Recognizer = Unavailable{}
