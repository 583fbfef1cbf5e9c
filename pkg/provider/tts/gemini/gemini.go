// Package gemini provides a TTS provider backed by Gemini's native audio
// output modality via google.golang.org/genai.
//
// The model answers with a single inline-data part holding 24 kHz 16-bit mono
// PCM. The genai client already decodes the base64 wire form, so payloads are
// reported as tts.EncodingPCM.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// DefaultModel is the speech-capable Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash-preview-tts"

// prebuiltVoices are the voices Gemini TTS accepts by name.
var prebuiltVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck", "Leda", "Orus", "Zephyr"}

// Provider implements tts.Provider using Gemini's audio modality.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Gemini TTS provider. An empty model selects DefaultModel.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	if cfg.timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: new client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Payload, error) {
	if req.Voice.ID == "" {
		return nil, errors.New("gemini tts: voice ID must not be empty")
	}

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: req.Text}}}}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, speechConfig(req.Voice.ID))
	if err != nil {
		return nil, fmt.Errorf("gemini tts: generate content: %w", err)
	}
	return payloadFrom(resp), nil
}

// ListVoices implements tts.Provider. Gemini has no voice listing endpoint, so
// the fixed prebuilt set is returned.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	out := make([]types.VoiceProfile, 0, len(prebuiltVoices))
	for _, v := range prebuiltVoices {
		out = append(out, types.VoiceProfile{ID: v, Name: v, Provider: "gemini"})
	}
	return out, nil
}

func speechConfig(voice string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
}

// payloadFrom returns the first inline audio part of resp, or an empty
// payload when the response carries none. The sample rate is left to the
// part's MIME type when it has one.
func payloadFrom(resp *genai.GenerateContentResponse) *tts.Payload {
	out := &tts.Payload{Encoding: tts.EncodingPCM, SampleRate: tts.DefaultSampleRate, Channels: 1}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		out.Data = part.InlineData.Data
		out.MIMEType = part.InlineData.MIMEType
		if out.MIMEType != "" {
			out.SampleRate = 0
		}
		return out
	}
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
