// Package whisper provides an STT provider backed by a whisper.cpp server.
//
// whisper-server exposes batch inference at POST /inference. The provider
// approximates streaming by buffering microphone PCM, cutting utterances on
// trailing silence (RMS below a threshold), and posting each utterance as a
// WAV upload. Every recognised utterance is emitted once as a partial and
// once as a final.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	handle.SendAudio(pcmChunk)
//	final := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/flowtalk/pkg/audio"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/types"
)

const (
	// defaultRMSThreshold is the level (16-bit sample units) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultSilence    = 600 * time.Millisecond
	defaultMaxSpeech  = 15 * time.Second
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language hint sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets how much trailing silence ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxSpeech caps the length of one utterance; longer speech is flushed
// early.
func WithMaxSpeech(d time.Duration) Option {
	return func(p *Provider) { p.maxSpeech = d }
}

// WithThreshold overrides the RMS silence threshold.
func WithThreshold(rms float64) Option {
	return func(p *Provider) { p.threshold = rms }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	language   string
	silence    time.Duration
	maxSpeech  time.Duration
	threshold  float64
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silence:    defaultSilence,
		maxSpeech:  defaultMaxSpeech,
		threshold:  defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider. No connection is made until the first
// utterance is flushed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	s := &session{
		p:        p,
		language: cfg.Language,
		rate:     cfg.SampleRate,
		channels: cfg.Channels,
		audioCh:  make(chan []byte, 256),
		partials: make(chan types.Transcript, 16),
		finals:   make(chan types.Transcript, 16),
		done:     make(chan struct{}),
	}
	if s.language == "" {
		s.language = p.language
	}
	if s.rate <= 0 {
		s.rate = defaultSampleRate
	}
	if s.channels <= 0 {
		s.channels = 1
	}

	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// session implements stt.SessionHandle. Buffer state is owned by run.
type session struct {
	p        *Provider
	language string
	rate     int
	channels int

	audioCh  chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }

func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close flushes buffered speech, then closes both transcript channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buf       []byte
		speech    time.Duration
		trailing  time.Duration
		hadSpeech bool
	)

	flush := func(fctx context.Context) {
		pcm := buf
		buf, speech, trailing, hadSpeech = nil, 0, 0, false
		if len(pcm) == 0 {
			return
		}
		text, err := s.infer(fctx, pcm)
		if err != nil || text == "" {
			return
		}
		tr := types.Transcript{Text: text, Duration: audio.PCMDuration(pcm, s.rate, s.channels)}
		select {
		case s.partials <- tr:
		default:
		}
		tr.IsFinal = true
		select {
		case s.finals <- tr:
		default:
		}
	}

	finalFlush := func() {
		if !hadSpeech {
			return
		}
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fctx)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-s.done:
			// Frames accepted before Close still belong to the utterance.
		drain:
			for {
				select {
				case chunk := <-s.audioCh:
					if hadSpeech || audio.RMS(chunk) >= s.p.threshold {
						hadSpeech = true
						buf = append(buf, chunk...)
					}
				default:
					break drain
				}
			}
			finalFlush()
			return
		case chunk := <-s.audioCh:
			d := audio.PCMDuration(chunk, s.rate, s.channels)
			if audio.RMS(chunk) < s.p.threshold {
				if !hadSpeech {
					continue
				}
				buf = append(buf, chunk...)
				trailing += d
				if trailing >= s.p.silence {
					flush(ctx)
				}
				continue
			}
			hadSpeech = true
			trailing = 0
			speech += d
			buf = append(buf, chunk...)
			if speech >= s.p.maxSpeech {
				flush(ctx)
			}
		}
	}
}

// infer posts pcm as a WAV upload and returns the trimmed transcript.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.rate, s.channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return "", fmt.Errorf("whisper: write language: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response format: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)
