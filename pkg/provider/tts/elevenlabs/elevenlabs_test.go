package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("want error for empty api key")
	}
}

func TestSynthesize(t *testing.T) {
	pcm := []byte{0x00, 0x10, 0xff, 0x7f}
	var (
		gotPath, gotFormat, gotKey string
		gotBody                    speechRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotFormat = r.URL.Path, r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(speechResponse{AudioBase64: base64.StdEncoding.EncodeToString(pcm)})
	}))
	defer srv.Close()

	p, err := New("xi-test",
		WithBaseURL(srv.URL),
		WithVoiceMap(map[string]string{"Kore": "voice-123"}),
		WithVoiceSettings(0.3, 0.9),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload, err := p.Synthesize(context.Background(), tts.Request{
		Text:  "Hi! What can I get you today?",
		Voice: types.VoiceProfile{ID: "Kore"},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotPath != "/v1/text-to-speech/voice-123/with-timestamps" || gotFormat != "pcm_24000" {
		t.Errorf("request = %s?output_format=%s", gotPath, gotFormat)
	}
	if gotKey != "xi-test" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotBody.ModelID != defaultModel || gotBody.VoiceSettings == nil || gotBody.VoiceSettings.Stability != 0.3 {
		t.Errorf("request body = %+v", gotBody)
	}
	if payload.Encoding != tts.EncodingBase64 || payload.SampleRate != tts.DefaultSampleRate {
		t.Errorf("payload = %+v", payload)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(string(payload.Data)); string(decoded) != string(pcm) {
		t.Errorf("decoded = %v, want %v", decoded, pcm)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "status with detail",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))
			},
			want: "status 401: Invalid API key",
		},
		{
			name: "bare status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: "status 429",
		},
		{
			name: "no audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
			want: "no audio",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			p, _ := New("xi-test", WithBaseURL(srv.URL))
			_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: types.VoiceProfile{ID: "v"}})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want it to contain %q", err, tc.want)
			}
		})
	}

	p, _ := New("xi-test")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("want error without a voice")
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`))
	}))
	defer srv.Close()

	p, _ := New("xi-test", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("voices = %d, want 1", len(voices))
	}
	v := voices[0]
	if v.ID != "v1" || v.Name != "Rachel" || v.Provider != "elevenlabs" {
		t.Errorf("voice = %+v", v)
	}
	if v.Metadata["accent"] != "american" || v.Metadata["category"] != "premade" {
		t.Errorf("metadata = %v", v.Metadata)
	}
}
