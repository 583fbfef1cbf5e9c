// Package elevenlabs is a tts.Provider for the ElevenLabs REST API.
//
// Speech comes from the with-timestamps endpoint as 24 kHz PCM inside a JSON
// body. The audio_base64 field is passed on undecoded as a
// tts.EncodingBase64 payload; the speech bridge decodes it.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"
	outputFormat   = "pcm_24000"
)

// Provider implements tts.Provider.
type Provider struct {
	apiKey   string
	baseURL  string
	model    string
	voices   map[string]string
	settings voiceSettings
	client   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the ElevenLabs model id.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) Option { return func(p *Provider) { p.baseURL = u } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// WithVoiceMap maps persona voice names such as "Kore" to ElevenLabs voice
// ids. Unmapped names are sent unchanged.
func WithVoiceMap(m map[string]string) Option {
	return func(p *Provider) {
		for name, id := range m {
			p.voices[name] = id
		}
	}
}

// WithVoiceSettings sets stability and similarity boost, both in [0, 1].
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) { p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarity} }
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	p := &Provider{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    defaultModel,
		voices:   map[string]string{},
		settings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type speechResponse struct {
	AudioBase64 string `json:"audio_base64"`
}

type voiceList struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Payload, error) {
	id := req.Voice.ID
	if mapped, ok := p.voices[id]; ok {
		id = mapped
	}
	if id == "" {
		return nil, errors.New("elevenlabs: synthesize: no voice")
	}
	settings := p.settings
	path := fmt.Sprintf("/v1/text-to-speech/%s/with-timestamps?output_format=%s", url.PathEscape(id), outputFormat)

	var sr speechResponse
	err := p.call(ctx, http.MethodPost, path, speechRequest{Text: req.Text, ModelID: p.model, VoiceSettings: &settings}, &sr)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	if sr.AudioBase64 == "" {
		return nil, errors.New("elevenlabs: synthesize: response carried no audio")
	}
	return &tts.Payload{
		Data:       []byte(sr.AudioBase64),
		Encoding:   tts.EncodingBase64,
		SampleRate: tts.DefaultSampleRate,
		Channels:   1,
	}, nil
}

// ListVoices implements tts.Provider. Labels and the category are kept as
// metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	var vl voiceList
	if err := p.call(ctx, http.MethodGet, "/v1/voices", nil, &vl); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	out := make([]types.VoiceProfile, 0, len(vl.Voices))
	for _, v := range vl.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, types.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}

// call sends in as JSON (when non-nil) and decodes a 200 response into out.
func (p *Provider) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError includes the API's detail message when the body has one.
func statusError(resp *http.Response) error {
	var e struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &e) == nil && e.Detail.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Detail.Message)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}
