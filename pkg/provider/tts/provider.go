// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Gemini's audio
// modality or OpenAI's speech endpoint) and returns the synthesized utterance
// as a single Payload. Payloads are not decoded here: the transport encoding
// and sample format are reported alongside the bytes so that the speech bridge
// owns decoding in one place.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// Encoding names the transport encoding of Payload.Data.
type Encoding string

const (
	// EncodingBase64 means Data holds base64 text that decodes to raw PCM.
	EncodingBase64 Encoding = "base64"

	// EncodingPCM means Data already holds raw 16-bit little-endian PCM.
	EncodingPCM Encoding = "pcm"
)

// DefaultSampleRate is the output rate of every supported backend.
const DefaultSampleRate = 24000

// Request describes one synthesis call.
type Request struct {
	// Text is the utterance to speak.
	Text string

	// Voice is the prebuilt voice to use (e.g. "Kore").
	Voice types.VoiceProfile
}

// Payload is the raw result of a synthesis call.
type Payload struct {
	// Data is the audio as delivered by the backend. Empty when the backend
	// produced no audio.
	Data []byte

	// Encoding is the transport encoding of Data.
	Encoding Encoding

	// MIMEType is the backend-reported content type, if any
	// (e.g. "audio/L16;codec=pcm;rate=24000").
	MIMEType string

	// SampleRate of the decoded PCM in Hz. Zero means DefaultSampleRate.
	SampleRate int

	// Channels of the decoded PCM. Zero means mono.
	Channels int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize requests audio for req.Text in req.Voice. A backend that
	// answers successfully but without audio returns an empty Payload and a nil
	// error; the caller decides how to treat silence.
	Synthesize(ctx context.Context, req Request) (*Payload, error)

	// ListVoices returns the voices this backend can speak with.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
