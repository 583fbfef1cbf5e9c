// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
//
// Audio is requested in the "pcm" response format, which OpenAI documents as
// raw 24 kHz 16-bit signed little-endian mono samples, the same layout as
// Gemini's audio output.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini-tts"

// defaultVoiceMap translates the catalog's prebuilt voice names to OpenAI
// voices of a similar register.
var defaultVoiceMap = map[string]string{
	"Kore":   "nova",
	"Fenrir": "onyx",
	"Puck":   "fable",
	"Aoede":  "shimmer",
	"Charon": "echo",
}

var openAIVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

// Provider implements tts.Provider using OpenAI's audio speech API.
type Provider struct {
	client   oai.Client
	model    string
	voiceMap map[string]string
}

type config struct {
	baseURL  string
	timeout  time.Duration
	voiceMap map[string]string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoiceMap adds or overrides prebuilt-voice to OpenAI-voice mappings.
func WithVoiceMap(m map[string]string) Option {
	return func(c *config) {
		for k, v := range m {
			c.voiceMap[k] = v
		}
	}
}

// New constructs an OpenAI TTS provider. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voiceMap: make(map[string]string, len(defaultVoiceMap))}
	for k, v := range defaultVoiceMap {
		cfg.voiceMap[k] = v
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, voiceMap: cfg.voiceMap}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Payload, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.resolveVoice(req.Voice.ID)),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	return &tts.Payload{
		Data:       data,
		Encoding:   tts.EncodingPCM,
		MIMEType:   resp.Header.Get("Content-Type"),
		SampleRate: tts.DefaultSampleRate,
		Channels:   1,
	}, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	out := make([]types.VoiceProfile, 0, len(openAIVoices))
	for _, v := range openAIVoices {
		out = append(out, types.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}

// resolveVoice maps a catalog voice to an OpenAI voice. Unknown names pass
// through so native OpenAI voice ids work too; an empty id selects "alloy".
func (p *Provider) resolveVoice(id string) string {
	if v, ok := p.voiceMap[id]; ok {
		return v
	}
	if id == "" {
		return "alloy"
	}
	return id
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
