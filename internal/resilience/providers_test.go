package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/flowtalk/internal/resilience"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	llmmock "github.com/MrWong99/flowtalk/pkg/provider/llm/mock"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	sttmock "github.com/MrWong99/flowtalk/pkg/provider/stt/mock"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/flowtalk/pkg/provider/tts/mock"
	"github.com/MrWong99/flowtalk/pkg/types"
)

func TestLLMFallback(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteErr: errors.New("503 overloaded"),
		Caps:        types.ModelCapabilities{ContextWindow: 1_000_000},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"ok":true}`},
	}
	fb := resilience.NewLLMFallback(resilience.BreakerConfig{MaxFailures: 2},
		resilience.Backend[llm.Provider]{Name: "gemini", Value: primary},
		resilience.Backend[llm.Provider]{Name: "openai", Value: secondary},
	)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "You are Chloe."})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("content = %q", resp.Content)
	}
	if got := secondary.Calls(); len(got) != 1 || got[0].Req.SystemPrompt != "You are Chloe." {
		t.Errorf("secondary calls = %+v", got)
	}
	if got := fb.Capabilities().ContextWindow; got != 1_000_000 {
		t.Errorf("capabilities come from the primary, got window %d", got)
	}
	if fb.Len() != 2 {
		t.Errorf("Len = %d", fb.Len())
	}
}

func TestTTSFallback(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{
		SynthesizeResult: &tts.Payload{Data: []byte{1, 2}, Encoding: tts.EncodingPCM},
		Voices:           []types.VoiceProfile{{ID: "alloy"}},
	}
	fb := resilience.NewTTSFallback(resilience.BreakerConfig{MaxFailures: 1},
		resilience.Backend[tts.Provider]{Name: "gemini", Value: primary},
		resilience.Backend[tts.Provider]{Name: "openai", Value: secondary},
	)

	p, err := fb.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(p.Data) != 2 {
		t.Errorf("payload = %+v", p)
	}
	if fb.States()["gemini"] != resilience.StateOpen {
		t.Errorf("states = %v, want gemini open", fb.States())
	}

	// The open primary is skipped entirely.
	if _, err := fb.Synthesize(context.Background(), tts.Request{Text: "again"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary calls = %d, want 1", n)
	}

	voices, err := fb.ListVoices(context.Background())
	if err != nil || len(voices) != 1 {
		t.Errorf("ListVoices = %v, %v", voices, err)
	}
}

func TestSTTFallback(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("connection refused")}
	sess := sttmock.NewSession()
	secondary := &sttmock.Provider{Session: sess}
	fb := resilience.NewSTTFallback(resilience.BreakerConfig{},
		resilience.Backend[stt.Provider]{Name: "whisper", Value: primary},
		resilience.Backend[stt.Provider]{Name: "whisper-backup", Value: secondary},
	)

	h, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if h != sess {
		t.Error("handle is not the secondary's session")
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0].Cfg.Language != "en" {
		t.Errorf("secondary calls = %+v", calls)
	}
}
