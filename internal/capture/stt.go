package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/pkg/audio"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// STTOption configures an STTRecognizer.
type STTOption func(*STTRecognizer)

// WithLanguage sets the recognition language. Defaults to "en".
func WithLanguage(lang string) STTOption {
	return func(r *STTRecognizer) { r.cfg.Language = lang }
}

// WithProviderName sets the name used in metrics.
func WithProviderName(name string) STTOption {
	return func(r *STTRecognizer) { r.providerName = name }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) STTOption {
	return func(r *STTRecognizer) { r.metrics = m }
}

// STTRecognizer adapts a streaming stt.Provider and an audio Source to
// Recognizer. Frames are normalised to 16 kHz mono before recognition.
type STTRecognizer struct {
	provider     stt.Provider
	source       Source
	cfg          stt.StreamConfig
	providerName string
	metrics      *observe.Metrics

	mu        sync.Mutex
	onPartial func(string)
	onFinal   func(string)
	onError   func(error)
	onEnd     func()
	run       *captureRun
}

// captureRun is the state of one Start..Stop cycle.
type captureRun struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSTTRecognizer returns a recognizer that streams source through p. A nil
// provider yields a recognizer whose Start reports ErrUnavailable.
func NewSTTRecognizer(p stt.Provider, source Source, opts ...STTOption) *STTRecognizer {
	r := &STTRecognizer{
		provider:     p,
		source:       source,
		cfg:          stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"},
		providerName: "stt",
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// OnPartialText implements Recognizer. Handlers registered during a capture
// take effect on the next Start.
func (r *STTRecognizer) OnPartialText(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPartial = fn
}

// OnFinalText implements Recognizer.
func (r *STTRecognizer) OnFinalText(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinal = fn
}

// OnError implements Recognizer.
func (r *STTRecognizer) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// OnEnd implements Recognizer.
func (r *STTRecognizer) OnEnd(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnd = fn
}

// Listening implements Recognizer.
func (r *STTRecognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run != nil
}

// Start implements Recognizer.
func (r *STTRecognizer) Start(ctx context.Context) error {
	if r.provider == nil || r.source == nil {
		return ErrUnavailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return ErrActive
	}

	frames, err := r.source.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: open source: %v", ErrUnavailable, err)
	}
	session, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		_ = r.source.Close()
		r.metrics.RecordProviderError(ctx, r.providerName, observe.KindSTT)
		return fmt.Errorf("%w: start stream: %v", ErrUnavailable, err)
	}
	r.metrics.RecordProviderRequest(ctx, r.providerName, observe.KindSTT, observe.StatusOK)

	run := &captureRun{stop: make(chan struct{}), done: make(chan struct{})}
	r.run = run
	go r.loop(ctx, run, frames, session)
	return nil
}

// Stop implements Recognizer. It flushes the recognition session, delivers
// any remaining text and waits for the capture goroutine to exit.
func (r *STTRecognizer) Stop() error {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	run.stopOnce.Do(func() { close(run.stop) })
	<-run.done
	return nil
}

func (r *STTRecognizer) callbacks() (func(string), func(string), func(error), func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onPartial, r.onFinal, r.onError, r.onEnd
}

func (r *STTRecognizer) loop(ctx context.Context, run *captureRun, frames <-chan types.AudioFrame, session stt.SessionHandle) {
	onPartial, onFinal, onError, onEnd := r.callbacks()
	start := time.Now()
	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: r.cfg.SampleRate, Channels: r.cfg.Channels}}

	var committed []string
	text := func(extra string) string {
		parts := committed
		if extra != "" {
			parts = append(parts[:len(parts):len(parts)], extra)
		}
		return strings.Join(parts, " ")
	}
	deliver := func(tr types.Transcript, final bool) {
		t := strings.TrimSpace(tr.Text)
		if t == "" {
			return
		}
		if !final {
			if onPartial != nil {
				onPartial(text(t))
			}
			return
		}
		committed = append(committed, t)
		r.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", r.providerName)))
		if onFinal != nil {
			onFinal(text(""))
		}
	}
	fail := func(err error) {
		r.metrics.RecordProviderError(ctx, r.providerName, observe.KindSTT)
		if onError != nil {
			onError(err)
		}
	}

	partials, finals := session.Partials(), session.Finals()
listen:
	for {
		select {
		case <-run.stop:
			break listen
		case <-ctx.Done():
			break listen
		case f, ok := <-frames:
			if !ok {
				break listen
			}
			f = conv.Convert(f)
			if len(f.Data) == 0 {
				continue
			}
			if err := session.SendAudio(f.Data); err != nil {
				fail(fmt.Errorf("capture: send audio: %w", err))
				break listen
			}
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			deliver(tr, false)
		case tr, ok := <-finals:
			if !ok {
				break listen
			}
			deliver(tr, true)
		}
	}

	_ = r.source.Close()
	if err := session.Close(); err != nil {
		fail(fmt.Errorf("capture: close stream: %w", err))
	}
	// Close has flushed the session; drain what it produced.
	if finals != nil {
		for tr := range finals {
			deliver(tr, true)
		}
	}

	r.mu.Lock()
	r.run = nil
	r.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
	close(run.done)
}

var _ Recognizer = (*STTRecognizer)(nil)
