// Package stt is the speech-to-text seam used for voice input.
//
// A learner's microphone is streamed into a [SessionHandle]; the backend
// answers with interim transcripts for live captions and final transcripts
// that become the learner's message. Implementations must be safe for
// concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// StreamConfig is the audio format and language of one capture stream.
// Capture always opens 16 kHz mono; Language is a BCP-47 tag and empty
// lets the backend detect it.
type StreamConfig struct {
	SampleRate int
	Channels   int
	Language   string
}

// SessionHandle is an open recognition stream. Its methods may be called
// from different goroutines.
type SessionHandle interface {
	// SendAudio queues 16-bit little-endian PCM in the stream's format. It
	// fails once the handle is closed.
	SendAudio(chunk []byte) error

	Partials() <-chan types.Transcript
	Finals() <-chan types.Transcript

	// Close flushes buffered speech, then closes both channels. Repeated
	// calls are no-ops.
	Close() error
}

// Provider opens recognition streams.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
