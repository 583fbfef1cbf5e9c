package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/flowtalk/internal/app"
	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/internal/health"
	"github.com/MrWong99/flowtalk/internal/server"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	llmmock "github.com/MrWong99/flowtalk/pkg/provider/llm/mock"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/flowtalk/pkg/provider/tts/mock"
)

const replyJSON = `{"ai_response_text":"Hi! What can I get you?","ai_response_translation":"你好！","suggested_user_script":"A latte, please.","script_translation":"一杯拿铁。"}`

func newApp(t *testing.T, llmProvider llm.Provider) *app.App {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if llmProvider == nil {
		llmProvider = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: replyJSON}}
	}
	a, err := app.New(context.Background(), cfg, &app.Providers{
		LLM: llmProvider,
		TTS: &ttsmock.Provider{
			SynthesizeResult: &tts.Payload{Data: []byte{0x00, 0x10, 0x00, 0xf0}, Encoding: tts.EncodingPCM, SampleRate: 24000},
		},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a
}

func newServer(t *testing.T, a *app.App, checkers ...health.Checker) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{
		Sessions: a.Sessions(),
		Catalog:  a.Catalog(),
		Checkers: checkers,
		Metrics:  a.Metrics(),
		Gatherer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

// wireMessage mirrors the fields of server messages the tests inspect.
type wireMessage struct {
	Type string `json:"type"`
	View *struct {
		State   string `json:"state"`
		Mode    string `json:"mode"`
		TotalXP int    `json:"total_xp"`
		Persona struct {
			ID string `json:"id"`
		} `json:"persona"`
		History []struct {
			Role string `json:"role"`
		} `json:"history"`
	} `json:"view"`
	Turn *struct {
		ID         string `json:"id"`
		Role       string `json:"role"`
		Text       string `json:"text"`
		Audio      string `json:"audio"`
		SampleRate int    `json:"sample_rate"`
	} `json:"turn"`
	Notice string `json:"notice"`
	ID     string `json:"id"`
	Code   string `json:"code"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write %v: %v", msg, err)
	}
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireMessage) bool) wireMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var m wireMessage
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(m) {
			return m
		}
	}
}

func viewIn(state string) func(wireMessage) bool {
	return func(m wireMessage) bool {
		return m.Type == "view" && m.View != nil && m.View.State == state
	}
}

func errorWithCode(code string) func(wireMessage) bool {
	return func(m wireMessage) bool { return m.Type == "error" && m.Code == code }
}

func TestNew_Validation(t *testing.T) {
	if _, err := server.New(server.Config{}); err == nil {
		t.Fatal("empty config accepted")
	}
}

func TestWebSocket_Conversation(t *testing.T) {
	a := newApp(t, nil)
	ts := httptest.NewServer(newServer(t, a).Handler())
	defer ts.Close()
	conn := dial(t, ts)

	first := readUntil(t, conn, viewIn("idle"))
	if first.View.Persona.ID != "chloe" || first.View.TotalXP != 120 {
		t.Errorf("initial view = %+v", first.View)
	}

	send(t, conn, map[string]any{"type": "start_topic", "topic": "cafe_order"})
	opening := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "turn" })
	if opening.Turn.Role != "ai" || opening.Turn.Text != "Hi! What can I get you?" {
		t.Errorf("opening turn = %+v", opening.Turn)
	}
	pcm, err := base64.StdEncoding.DecodeString(opening.Turn.Audio)
	if err != nil || len(pcm) != 4 || opening.Turn.SampleRate != 24000 {
		t.Errorf("opening audio = %d bytes at %d Hz (err %v)", len(pcm), opening.Turn.SampleRate, err)
	}
	readUntil(t, conn, viewIn("chatting"))

	send(t, conn, map[string]any{"type": "send", "text": "A cappuccino, please."})
	user := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "turn" })
	if user.Turn.Role != "user" || user.Turn.Text != "A cappuccino, please." {
		t.Errorf("user turn = %+v", user.Turn)
	}
	ai := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "turn" })
	if ai.Turn.Role != "ai" {
		t.Errorf("reply turn = %+v", ai.Turn)
	}
	v := readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == "view" && m.View != nil && m.View.State == "chatting" && len(m.View.History) == 3
	})
	if v.View.TotalXP != 145 {
		t.Errorf("total_xp = %d, want 145", v.View.TotalXP)
	}

	send(t, conn, map[string]any{"type": "replay", "turn_id": ai.Turn.ID})
	readUntil(t, conn, func(m wireMessage) bool { return m.Type == "playback" })

	send(t, conn, map[string]any{"type": "leave"})
	left := readUntil(t, conn, viewIn("idle"))
	if len(left.View.History) != 0 {
		t.Errorf("history after leave = %d", len(left.View.History))
	}
}

func TestWebSocket_CommandErrors(t *testing.T) {
	a := newApp(t, nil)
	ts := httptest.NewServer(newServer(t, a).Handler())
	defer ts.Close()
	conn := dial(t, ts)
	readUntil(t, conn, viewIn("idle"))

	tests := []struct {
		msg  map[string]any
		code string
	}{
		{map[string]any{"type": "set_mode", "mode": "L9", "id": "c1"}, "bad_mode"},
		{map[string]any{"type": "select_persona", "persona": "maya"}, "locked"},
		{map[string]any{"type": "select_persona", "persona": "nobody"}, "unknown_persona"},
		{map[string]any{"type": "start_topic", "topic": "nowhere"}, "unknown_topic"},
		{map[string]any{"type": "send", "text": "hello"}, "not_chatting"},
		{map[string]any{"type": "replay", "turn_id": "x"}, "unknown_turn"},
		{map[string]any{"type": "dance"}, "bad_message"},
	}
	for _, tc := range tests {
		send(t, conn, tc.msg)
		m := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "error" })
		if m.Code != tc.code {
			t.Errorf("%v: code = %q, want %q", tc.msg, m.Code, tc.code)
		}
		if id, _ := tc.msg["id"].(string); m.ID != id {
			t.Errorf("%v: id = %q, want %q", tc.msg, m.ID, id)
		}
	}

	send(t, conn, map[string]any{"type": "set_mode", "mode": "l3"})
	v := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "view" && m.View != nil && m.View.Mode == "L3" })
	if v.View.State != "idle" {
		t.Errorf("state = %q", v.View.State)
	}
}

func TestWebSocket_VoiceUnavailable(t *testing.T) {
	a := newApp(t, nil)
	ts := httptest.NewServer(newServer(t, a).Handler())
	defer ts.Close()
	conn := dial(t, ts)

	send(t, conn, map[string]any{"type": "start_topic", "topic": "cafe_order"})
	readUntil(t, conn, viewIn("chatting"))

	// Audio without an open capture is dropped.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	send(t, conn, map[string]any{"type": "voice_start"})
	notice := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "notice" })
	if notice.Notice != "Voice input is not available." {
		t.Errorf("notice = %q", notice.Notice)
	}
	readUntil(t, conn, errorWithCode("voice_unavailable"))
}

func TestWebSocket_TurnFailureIsANotice(t *testing.T) {
	a := newApp(t, &llmmock.Provider{CompleteErr: errors.New("connection refused")})
	ts := httptest.NewServer(newServer(t, a).Handler())
	defer ts.Close()
	conn := dial(t, ts)

	send(t, conn, map[string]any{"type": "start_topic", "topic": "cafe_order"})
	m := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "notice" || m.Type == "error" })
	if m.Type != "notice" || m.Notice == "" {
		t.Fatalf("got %+v, want a notice", m)
	}
	readUntil(t, conn, viewIn("idle"))
}

func TestWebSocket_CloseEndsSession(t *testing.T) {
	a := newApp(t, nil)
	ts := httptest.NewServer(newServer(t, a).Handler())
	defer ts.Close()
	conn := dial(t, ts)
	readUntil(t, conn, viewIn("idle"))

	if n := a.Sessions().Len(); n != 1 {
		t.Fatalf("open sessions = %d, want 1", n)
	}
	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for a.Sessions().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not closed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHTTP_Endpoints(t *testing.T) {
	a := newApp(t, nil)
	srv := newServer(t, a, health.CatalogCheck(a.Catalog()))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/api/sessions"} {
		if rec := get(path); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}

	rec := get("/api/catalog")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/catalog = %d", rec.Code)
	}
	var body struct {
		Personas []struct {
			ID string `json:"id"`
		} `json:"personas"`
		Topics     []json.RawMessage            `json:"topics"`
		ByCategory map[string][]json.RawMessage `json:"by_category"`
		Modes      []struct {
			Mode string `json:"mode"`
			Name string `json:"name"`
		} `json:"modes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Personas) != len(a.Catalog().ListPersonas()) || len(body.Topics) != len(a.Catalog().ListTopics()) {
		t.Errorf("catalog sizes = %d personas, %d topics", len(body.Personas), len(body.Topics))
	}
	if len(body.Modes) != 4 || body.Modes[0].Mode != "L1" || body.Modes[3].Name != "L4: Free Talk" {
		t.Errorf("modes = %+v", body.Modes)
	}
	if len(body.ByCategory["Daily"]) == 0 {
		t.Errorf("by_category = %v", body.ByCategory)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	a := newApp(t, nil)
	srv := newServer(t, a)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, nil) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
