// Package speech turns a finished reply into playable audio.
//
// The Bridge makes one synthesis call per reply, decodes the transport
// encoding fully (base64 or raw) and converts the 16-bit PCM into
// audio.Samples at the backend's rate, 24 kHz for every supported backend.
// A well-formed response without audio is reported as ErrNoAudioProduced,
// never as an empty buffer.
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/pkg/audio"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

var (
	// ErrTransport matches any failure to reach the synthesis endpoint.
	ErrTransport = errors.New("speech: transport failure")

	// ErrNoAudioProduced is returned when synthesis succeeded but carried no
	// audio payload.
	ErrNoAudioProduced = errors.New("speech: no audio produced")
)

// TransportError wraps a provider failure. It matches ErrTransport.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("speech: %s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError reports a payload that could not be decoded into samples.
type DecodeError struct {
	Encoding tts.Encoding
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("speech: decode %s payload: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Option configures a Bridge.
type Option func(*Bridge)

// WithProviderName sets the name used in metrics and errors.
func WithProviderName(name string) Option {
	return func(b *Bridge) { b.providerName = name }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge requests and decodes speech for replies. It is safe for concurrent
// use.
type Bridge struct {
	tts          tts.Provider
	providerName string
	metrics      *observe.Metrics
}

// New returns a Bridge backed by p.
func New(p tts.Provider, opts ...Option) *Bridge {
	b := &Bridge{tts: p, providerName: "tts"}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Synthesize speaks text in voiceID and returns the decoded samples.
func (b *Bridge) Synthesize(ctx context.Context, text, voiceID string) (*audio.Samples, error) {
	ctx, span := observe.StartSpan(ctx, "speech.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", b.providerName),
		attribute.String("voice", voiceID),
		attribute.Int("text.length", len(text)),
	)

	start := time.Now()
	payload, err := b.tts.Synthesize(ctx, tts.Request{
		Text:  text,
		Voice: types.VoiceProfile{ID: voiceID, Name: voiceID},
	})
	b.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", b.providerName)))
	if err != nil {
		b.metrics.RecordProviderRequest(ctx, b.providerName, observe.KindTTS, observe.StatusError)
		b.metrics.RecordProviderError(ctx, b.providerName, observe.KindTTS)
		observe.Fail(span, "transport", err)
		return nil, &TransportError{Provider: b.providerName, Err: err}
	}
	b.metrics.RecordProviderRequest(ctx, b.providerName, observe.KindTTS, observe.StatusOK)

	samples, err := Decode(payload)
	if err != nil {
		observe.Fail(span, "decode", err)
		return nil, err
	}
	span.SetAttributes(attribute.Float64("audio.seconds", samples.Duration().Seconds()))
	return samples, nil
}

// Decode turns a synthesis payload into samples. A nil or empty payload is
// ErrNoAudioProduced.
func Decode(p *tts.Payload) (*audio.Samples, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, ErrNoAudioProduced
	}

	pcm := p.Data
	switch p.Encoding {
	case tts.EncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(p.Data)))
		if err != nil {
			return nil, &DecodeError{Encoding: p.Encoding, Err: err}
		}
		pcm = raw
	case tts.EncodingPCM, "":
	default:
		return nil, &DecodeError{Encoding: p.Encoding, Err: errors.New("unsupported encoding")}
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudioProduced
	}

	rate := p.SampleRate
	if rate <= 0 {
		rate = rateFromMIME(p.MIMEType)
	}
	samples, err := audio.DecodePCM16(pcm, rate, p.Channels)
	if err != nil {
		return nil, &DecodeError{Encoding: p.Encoding, Err: err}
	}
	return samples, nil
}

// rateFromMIME reads the rate parameter of an "audio/L16;rate=24000" type,
// falling back to tts.DefaultSampleRate.
func rateFromMIME(mime string) int {
	for _, part := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return tts.DefaultSampleRate
}
