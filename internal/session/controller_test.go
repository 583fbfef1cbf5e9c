package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/flowtalk/internal/capture"
	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/conversation"
	"github.com/MrWong99/flowtalk/internal/playback"
	"github.com/MrWong99/flowtalk/internal/progression"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/internal/session"
	"github.com/MrWong99/flowtalk/internal/speech"
	"github.com/MrWong99/flowtalk/pkg/audio"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	llmmock "github.com/MrWong99/flowtalk/pkg/provider/llm/mock"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/flowtalk/pkg/provider/tts/mock"
)

// ---- fakes -------------------------------------------------------------------

type respondCall struct {
	History   []conversation.HistoryEntry
	Utterance string
	Block     prompt.Block
}

type fakeResponder struct {
	mu    sync.Mutex
	calls []respondCall
	fn    func(ctx context.Context, n int) (*conversation.Reply, error)
	log   *orderLog
}

func (f *fakeResponder) Respond(ctx context.Context, history []conversation.HistoryEntry, utterance string, block prompt.Block) (*conversation.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, respondCall{History: history, Utterance: utterance, Block: block})
	n := len(f.calls)
	fn := f.fn
	f.mu.Unlock()
	if f.log != nil {
		f.log.add("respond")
	}
	if fn != nil {
		return fn(ctx, n)
	}
	return reply(n), nil
}

func (f *fakeResponder) Calls() []respondCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]respondCall(nil), f.calls...)
}

func reply(n int) *conversation.Reply {
	return &conversation.Reply{
		Text:              "Reply " + string(rune('0'+n)),
		Translation:       "回复",
		SuggestedScript:   "I'd like a latte, please.",
		ScriptTranslation: "我想要一杯拿铁。",
	}
}

type fakeSynth struct {
	mu     sync.Mutex
	voices []string
	err    error
}

func (f *fakeSynth) Synthesize(_ context.Context, _, voiceID string) (*audio.Samples, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, voiceID)
	if f.err != nil {
		return nil, f.err
	}
	return &audio.Samples{Data: []float32{0.1, -0.1}, SampleRate: 24000, Channels: 1}, nil
}

type recordingPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *recordingPlayer) Play(ctx context.Context, s *audio.Samples) (*playback.Playback, error) {
	p.mu.Lock()
	p.plays++
	p.mu.Unlock()
	return playback.Discard{}.Play(ctx, s)
}

func (p *recordingPlayer) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *orderLog) reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func (l *orderLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// fakeRecognizer records Stop calls and lets tests fire callbacks.
type fakeRecognizer struct {
	mu        sync.Mutex
	log       *orderLog
	listening bool
	startErr  error
	partial   func(string)
	final     func(string)
	onErr     func(error)
	onEnd     func()
}

func (r *fakeRecognizer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.listening = true
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.mu.Lock()
	was := r.listening
	r.listening = false
	end := r.onEnd
	r.mu.Unlock()
	if r.log != nil {
		r.log.add("stop")
	}
	if was && end != nil {
		end()
	}
	return nil
}

func (r *fakeRecognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

func (r *fakeRecognizer) OnPartialText(fn func(string)) { r.partial = fn }
func (r *fakeRecognizer) OnFinalText(fn func(string))   { r.final = fn }
func (r *fakeRecognizer) OnError(fn func(error))        { r.onErr = fn }
func (r *fakeRecognizer) OnEnd(fn func())               { r.onEnd = fn }

type eventSink struct {
	mu     sync.Mutex
	events []session.Event
}

func (s *eventSink) listen(e session.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *eventSink) count(kind session.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (s *eventSink) notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Kind == session.EventNotice {
			out = append(out, e.Notice)
		}
	}
	return out
}

type fixture struct {
	ctrl      *session.Controller
	responder *fakeResponder
	synth     *fakeSynth
	player    *recordingPlayer
	rec       *fakeRecognizer
	sink      *eventSink
	log       *orderLog
}

func newFixture(t *testing.T, mutate func(*session.Config)) *fixture {
	t.Helper()
	log := &orderLog{}
	f := &fixture{
		responder: &fakeResponder{log: log},
		synth:     &fakeSynth{},
		player:    &recordingPlayer{},
		rec:       &fakeRecognizer{log: log},
		sink:      &eventSink{},
		log:       log,
	}
	cfg := session.Config{
		Catalog:    catalog.Default(),
		Responder:  f.responder,
		Speech:     f.synth,
		Player:     f.player,
		Recognizer: f.rec,
		Listener:   f.sink.listen,
		SessionID:  "test-session",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	f.ctrl = ctrl
	return f
}

func (f *fixture) start(t *testing.T, topicID string) {
	t.Helper()
	if err := f.ctrl.StartTopic(context.Background(), topicID); err != nil {
		t.Fatalf("StartTopic(%q): %v", topicID, err)
	}
}

// ---- construction ------------------------------------------------------------

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := session.New(session.Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"catalog", "responder", "speech"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestNew_UnknownDefaultPersona(t *testing.T) {
	t.Parallel()
	_, err := session.New(session.Config{
		Catalog:        catalog.Default(),
		Responder:      &fakeResponder{},
		Speech:         &fakeSynth{},
		DefaultPersona: "nobody",
	})
	if !errors.Is(err, session.ErrUnknownPersona) {
		t.Fatalf("err = %v, want ErrUnknownPersona", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	v := f.ctrl.View()

	if v.SessionID != "test-session" {
		t.Errorf("SessionID = %q", v.SessionID)
	}
	if v.State != session.StateIdle || v.Loading {
		t.Errorf("state = %v loading = %v, want idle", v.State, v.Loading)
	}
	if v.Persona.ID != "chloe" {
		t.Errorf("persona = %q, want chloe", v.Persona.ID)
	}
	if v.Mode != prompt.L1 {
		t.Errorf("mode = %v, want L1", v.Mode)
	}
	if v.TotalXP != 120 || v.Level != 1 || v.Streak != 3 || v.Relationship != 1 {
		t.Errorf("progress = xp %d level %d streak %d rel %d", v.TotalXP, v.Level, v.Streak, v.Relationship)
	}
	if v.LevelProgress != 80 {
		t.Errorf("LevelProgress = %v, want 80", v.LevelProgress)
	}
	if v.Suggestion.Visible {
		t.Error("suggestion should be hidden with no history")
	}
}

// ---- persona and mode --------------------------------------------------------

func TestSelectPersona(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.ctrl.SelectPersona("liam"); !errors.Is(err, session.ErrLocked) {
		t.Errorf("liam at level 1: err = %v, want ErrLocked", err)
	}
	if err := f.ctrl.SelectPersona("ghost"); !errors.Is(err, session.ErrUnknownPersona) {
		t.Errorf("ghost: err = %v, want ErrUnknownPersona", err)
	}
	if got := f.ctrl.View().Persona.ID; got != "chloe" {
		t.Errorf("persona changed to %q after refused selection", got)
	}
}

func TestSelectPersona_UnlockedAtLevel(t *testing.T) {
	t.Parallel()
	st := progression.Initial()
	st.TotalXP = 4 * progression.XPPerLevel
	f := newFixture(t, func(c *session.Config) { c.Progress = progression.NewStore(st) })

	if err := f.ctrl.SelectPersona("liam"); err != nil {
		t.Fatalf("SelectPersona(liam) at level 5: %v", err)
	}
	if err := f.ctrl.SelectPersona("maya"); err != nil {
		t.Fatalf("SelectPersona(maya) at level 5: %v", err)
	}
	if got := f.ctrl.View().Persona.ID; got != "maya" {
		t.Errorf("persona = %q, want maya", got)
	}
}

func TestSetMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := f.ctrl.SetMode(prompt.L3); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if got := f.ctrl.View().Mode; got != prompt.L3 {
		t.Errorf("mode = %v, want L3", got)
	}
	if err := f.ctrl.SetMode(prompt.Mode(9)); err == nil {
		t.Error("expected error for invalid mode")
	}
}

// ---- topics ------------------------------------------------------------------

func TestStartTopic_Guards(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.StartTopic(ctx, "job_interview"); !errors.Is(err, session.ErrLocked) {
		t.Errorf("locked topic: err = %v, want ErrLocked", err)
	}
	if err := f.ctrl.StartTopic(ctx, "moon_landing"); !errors.Is(err, session.ErrUnknownTopic) {
		t.Errorf("unknown topic: err = %v, want ErrUnknownTopic", err)
	}
	if v := f.ctrl.View(); v.State != session.StateIdle || v.Topic != nil {
		t.Errorf("state = %v topic = %v, want idle without topic", v.State, v.Topic)
	}
	if n := len(f.responder.Calls()); n != 0 {
		t.Errorf("responder called %d times", n)
	}
}

func TestStartTopic_OpeningTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")

	calls := f.responder.Calls()
	if len(calls) != 1 {
		t.Fatalf("responder calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if len(call.History) != 0 {
		t.Errorf("opening history = %v, want empty", call.History)
	}
	want := "Let's start the roleplay topic: Ordering Coffee. Let's roleplay! I am the barista at a busy cafe. You are next in line. Ask me for a coffee."
	if call.Utterance != want {
		t.Errorf("utterance =\n%q\nwant\n%q", call.Utterance, want)
	}
	if !strings.Contains(call.Block.Text, "You are Chloe.") {
		t.Errorf("block does not name the persona:\n%s", call.Block.Text)
	}

	v := f.ctrl.View()
	if v.State != session.StateChatting || v.Loading {
		t.Errorf("state = %v loading = %v, want chatting", v.State, v.Loading)
	}
	if v.Topic == nil || v.Topic.ID != "cafe_order" {
		t.Fatalf("topic = %v", v.Topic)
	}
	if len(v.History) != 1 || v.History[0].Role != conversation.RoleAI {
		t.Fatalf("history = %+v, want one AI turn", v.History)
	}
	if v.History[0].Audio == nil {
		t.Error("AI turn has no audio")
	}
	if v.TotalXP != 120 {
		t.Errorf("opening turn changed XP to %d", v.TotalXP)
	}
	if got := f.synth.voices; len(got) != 1 || got[0] != "Kore" {
		t.Errorf("voices = %v, want [Kore]", got)
	}
	if f.player.Plays() != 1 {
		t.Errorf("plays = %d, want 1", f.player.Plays())
	}
}

func TestStartTopic_FailureReturnsToIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.responder.fn = func(context.Context, int) (*conversation.Reply, error) {
		return nil, &conversation.TransportError{Provider: "test", Err: errors.New("connection refused")}
	}

	err := f.ctrl.StartTopic(context.Background(), "cafe_order")
	if !errors.Is(err, conversation.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	v := f.ctrl.View()
	if v.State != session.StateIdle || v.Loading || v.Topic != nil || len(v.History) != 0 {
		t.Errorf("view after failure = %+v", v)
	}
	if n := f.sink.notices(); len(n) != 1 {
		t.Errorf("notices = %v, want one", n)
	}
}

func TestStartTopic_ReplacesConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")
	if err := f.ctrl.Send(context.Background(), "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.start(t, "travel_help")

	v := f.ctrl.View()
	if v.Topic.ID != "travel_help" || len(v.History) != 1 {
		t.Errorf("topic = %s history = %d, want travel_help with one turn", v.Topic.ID, len(v.History))
	}
}

// ---- messages ----------------------------------------------------------------

func TestSend_Guards(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.Send(ctx, "hello"); !errors.Is(err, session.ErrNotChatting) {
		t.Errorf("idle: err = %v, want ErrNotChatting", err)
	}
	f.start(t, "cafe_order")
	if err := f.ctrl.Send(ctx, "   "); !errors.Is(err, session.ErrEmptyMessage) {
		t.Errorf("blank: err = %v, want ErrEmptyMessage", err)
	}
	if v := f.ctrl.View(); v.TotalXP != 120 || len(v.History) != 1 {
		t.Errorf("rejected sends changed state: xp %d history %d", v.TotalXP, len(v.History))
	}
}

func TestSend_RewardsAndComposesWithUpdatedProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")
	ctx := context.Background()

	if err := f.ctrl.Send(ctx, "  Hi, a latte please.  "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := f.responder.Calls()
	if len(calls) != 2 {
		t.Fatalf("responder calls = %d, want 2", len(calls))
	}
	call := calls[1]
	if call.Utterance != "Hi, a latte please." {
		t.Errorf("utterance = %q", call.Utterance)
	}
	if len(call.History) != 1 || call.History[0].Role != conversation.RoleAI {
		t.Errorf("history = %+v, want only the opening turn", call.History)
	}

	v := f.ctrl.View()
	if v.TotalXP != 145 || v.Level != 1 {
		t.Errorf("xp = %d level = %d, want 145 and 1", v.TotalXP, v.Level)
	}
	if v.Mastery != 5 {
		t.Errorf("mastery = %v, want 5", v.Mastery)
	}
	if v.Streak != 3 {
		t.Errorf("streak = %d, want 3", v.Streak)
	}
	if len(v.History) != 3 {
		t.Fatalf("history = %d turns, want 3", len(v.History))
	}
	if v.History[1].Role != conversation.RoleUser || v.History[1].Text != "Hi, a latte please." {
		t.Errorf("user turn = %+v", v.History[1])
	}

	// The second message crosses into level 2; its instructions must see it.
	if err := f.ctrl.Send(ctx, "Thank you!"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls = f.responder.Calls()
	snap := f.ctrl.Progress().Snapshot()
	if snap.Level() != 2 {
		t.Fatalf("level = %d, want 2", snap.Level())
	}
	persona, _ := catalog.Default().Persona("chloe")
	topic, _ := catalog.Default().Topic("cafe_order")
	want := prompt.Compose(prompt.Input{
		Persona:      persona,
		Topic:        topic,
		Mode:         prompt.L1,
		Level:        2,
		Relationship: 1,
		Mastery:      10,
	})
	if calls[2].Block.Text != want.Text {
		t.Errorf("block =\n%s\nwant\n%s", calls[2].Block.Text, want.Text)
	}
	if len(calls[2].History) != 3 {
		t.Errorf("history passed = %d entries, want 3", len(calls[2].History))
	}
}

func TestSend_FailureKeepsUserTurnAndReward(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")
	f.responder.mu.Lock()
	f.responder.fn = func(context.Context, int) (*conversation.Reply, error) {
		return nil, &conversation.SchemaError{Field: "ai_response_text", Reason: "is missing"}
	}
	f.responder.mu.Unlock()

	err := f.ctrl.Send(context.Background(), "Hello")
	if !errors.Is(err, conversation.ErrSchemaValidation) {
		t.Fatalf("err = %v, want ErrSchemaValidation", err)
	}
	v := f.ctrl.View()
	if v.State != session.StateChatting || v.Loading {
		t.Errorf("state = %v loading = %v, want chatting", v.State, v.Loading)
	}
	if len(v.History) != 2 || v.History[1].Role != conversation.RoleUser {
		t.Errorf("history = %+v, want opening plus user turn", v.History)
	}
	if v.TotalXP != 145 {
		t.Errorf("xp = %d, want reward kept at 145", v.TotalXP)
	}
	notices := f.sink.notices()
	if len(notices) != 1 || !strings.Contains(notices[0], "garbled") {
		t.Errorf("notices = %v", notices)
	}
}

func TestSend_SynthesisFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")
	f.synth.mu.Lock()
	f.synth.err = &speech.TransportError{Provider: "tts", Err: errors.New("503")}
	f.synth.mu.Unlock()

	err := f.ctrl.Send(context.Background(), "Hello")
	if !errors.Is(err, speech.ErrTransport) {
		t.Fatalf("err = %v, want speech.ErrTransport", err)
	}
	if v := f.ctrl.View(); len(v.History) != 2 || v.State != session.StateChatting {
		t.Errorf("history = %d state = %v", len(v.History), v.State)
	}
	notices := f.sink.notices()
	if len(notices) != 1 || !strings.Contains(notices[0], "audio") {
		t.Errorf("notices = %v", notices)
	}
}

func TestSend_NoAudioKeepsPlaybackUnchanged(t *testing.T) {
	t.Parallel()
	player := &heldPlayer{}
	f := newFixture(t, func(c *session.Config) { c.Player = player })
	f.start(t, "cafe_order")

	before := f.ctrl.View()
	events := f.sink.count(session.EventPlayback)
	f.synth.mu.Lock()
	f.synth.err = speech.ErrNoAudioProduced
	f.synth.mu.Unlock()

	err := f.ctrl.Send(context.Background(), "Hello")
	if !errors.Is(err, speech.ErrNoAudioProduced) {
		t.Fatalf("err = %v, want speech.ErrNoAudioProduced", err)
	}
	after := f.ctrl.View()
	if after.PlayingTurnID != before.PlayingTurnID || after.PlayingTurnID != before.History[0].ID {
		t.Errorf("PlayingTurnID = %q, want %q", after.PlayingTurnID, before.PlayingTurnID)
	}
	player.mu.Lock()
	plays := len(player.plays)
	player.mu.Unlock()
	if plays != 1 {
		t.Errorf("plays = %d, want 1", plays)
	}
	if got := f.sink.count(session.EventPlayback); got != events {
		t.Errorf("playback events = %d, want %d", got, events)
	}
	if len(after.History) != 2 || after.State != session.StateChatting {
		t.Errorf("history = %d state = %v", len(after.History), after.State)
	}
}

func TestSend_BusyWhileInFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.responder.mu.Lock()
	f.responder.fn = func(_ context.Context, n int) (*conversation.Reply, error) {
		close(entered)
		<-release
		return reply(n), nil
	}
	f.responder.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Send(context.Background(), "first") }()
	<-entered

	v := f.ctrl.View()
	if v.State != session.StateTurnInFlight || !v.Loading {
		t.Errorf("state = %v loading = %v, want turn_in_flight", v.State, v.Loading)
	}
	if v.Suggestion.Visible {
		t.Error("suggestion should be hidden while loading")
	}
	if err := f.ctrl.Send(context.Background(), "second"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("concurrent Send: err = %v, want ErrBusy", err)
	}
	if err := f.ctrl.StartTopic(context.Background(), "travel_help"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("StartTopic in flight: err = %v, want ErrBusy", err)
	}
	if err := f.ctrl.SelectPersona("chloe"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("SelectPersona in flight: err = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if v := f.ctrl.View(); len(v.History) != 3 || v.Loading {
		t.Errorf("history = %d loading = %v", len(v.History), v.Loading)
	}
}

func TestSend_TurnTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *session.Config) { c.TurnTimeout = 20 * time.Millisecond })
	f.start(t, "cafe_order")
	f.responder.mu.Lock()
	f.responder.fn = func(ctx context.Context, _ int) (*conversation.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.responder.mu.Unlock()

	err := f.ctrl.Send(context.Background(), "Hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if v := f.ctrl.View(); v.Loading || v.State != session.StateChatting {
		t.Errorf("state = %v loading = %v", v.State, v.Loading)
	}
}

func TestSend_StopsCaptureBeforeRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")

	if err := f.ctrl.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	f.rec.partial("I would")
	if got := f.ctrl.Draft(); got != "I would" {
		t.Errorf("draft = %q", got)
	}
	f.log.reset()

	if err := f.ctrl.Send(context.Background(), "I would like tea"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := f.log.get()
	if len(got) < 2 || got[0] != "stop" || got[len(got)-1] != "respond" {
		t.Errorf("order = %v, want stop before respond", got)
	}
	if f.rec.Listening() {
		t.Error("recognizer still listening after Send")
	}
	if f.ctrl.Draft() != "" {
		t.Errorf("draft = %q after Send, want empty", f.ctrl.Draft())
	}
}

// ---- leave -------------------------------------------------------------------

func TestLeave_DropsInFlightResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.responder.mu.Lock()
	f.responder.fn = func(_ context.Context, n int) (*conversation.Reply, error) {
		close(entered)
		<-release
		return reply(n), nil
	}
	f.responder.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Send(context.Background(), "Hello") }()
	<-entered
	f.ctrl.Leave()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	v := f.ctrl.View()
	if v.State != session.StateIdle || v.Loading || v.Topic != nil || len(v.History) != 0 {
		t.Errorf("view after leave = state %v loading %v topic %v history %d", v.State, v.Loading, v.Topic, len(v.History))
	}
	if v.TotalXP != 145 {
		t.Errorf("xp = %d, want 145", v.TotalXP)
	}
}

func TestLeave_OneModelCallAtATime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")

	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
		cancelled   error
		blocked     bool
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.responder.mu.Lock()
	f.responder.fn = func(ctx context.Context, n int) (*conversation.Reply, error) {
		mu.Lock()
		inFlight++
		maxInFlight = max(maxInFlight, inFlight)
		first := !blocked
		blocked = true
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		if first {
			close(entered)
			<-release
			mu.Lock()
			cancelled = ctx.Err()
			mu.Unlock()
		}
		return reply(n), nil
	}
	f.responder.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Send(context.Background(), "Hello") }()
	<-entered
	f.ctrl.Leave()

	if v := f.ctrl.View(); v.State != session.StateIdle || !v.Loading {
		t.Errorf("after leave: state = %v loading = %v, want idle and loading", v.State, v.Loading)
	}
	if err := f.ctrl.StartTopic(context.Background(), "travel_help"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("StartTopic before the old turn returned: err = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if v := f.ctrl.View(); v.Loading {
		t.Error("still loading after the abandoned turn returned")
	}
	f.start(t, "travel_help")

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight > 1 {
		t.Errorf("max concurrent Respond calls = %d, want 1", maxInFlight)
	}
	if !errors.Is(cancelled, context.Canceled) {
		t.Errorf("abandoned turn context err = %v, want context.Canceled", cancelled)
	}
	if v := f.ctrl.View(); v.Topic == nil || v.Topic.ID != "travel_help" || len(v.History) != 1 {
		t.Errorf("view after restart: topic %v history %d", v.Topic, len(v.History))
	}
}

func TestLeave_BeforePlaybackStarts(t *testing.T) {
	t.Parallel()
	var (
		ctrl         *session.Controller
		leaveOnReply atomic.Bool
	)
	f := newFixture(t, func(c *session.Config) {
		c.Listener = func(e session.Event) {
			if e.Kind == session.EventTurn && e.Turn.Role == conversation.RoleAI && leaveOnReply.Load() {
				ctrl.Leave()
			}
		}
	})
	ctrl = f.ctrl
	f.start(t, "cafe_order")
	leaveOnReply.Store(true)

	if err := f.ctrl.Send(context.Background(), "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := f.player.Plays(); got != 1 {
		t.Errorf("plays = %d, want only the opening turn", got)
	}
	if v := f.ctrl.View(); v.State != session.StateIdle || v.PlayingTurnID != "" {
		t.Errorf("state = %v playing = %q", v.State, v.PlayingTurnID)
	}
}

func TestLeave_IdleIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.ctrl.Leave()
	if v := f.ctrl.View(); v.State != session.StateIdle {
		t.Errorf("state = %v", v.State)
	}
}

// ---- view --------------------------------------------------------------------

func TestView_SuggestionByMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode            prompt.Mode
		wantVisible     bool
		wantTranslation bool
	}{
		{prompt.L1, true, true},
		{prompt.L2, true, false},
		{prompt.L3, true, false},
		{prompt.L4, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.mode.String(), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(c *session.Config) { c.DefaultMode = tc.mode })
			f.start(t, "cafe_order")

			s := f.ctrl.View().Suggestion
			if s.Visible != tc.wantVisible {
				t.Fatalf("visible = %v, want %v", s.Visible, tc.wantVisible)
			}
			if tc.wantVisible && s.Text != "I'd like a latte, please." {
				t.Errorf("text = %q", s.Text)
			}
			if (s.Translation != "") != tc.wantTranslation {
				t.Errorf("translation = %q, want shown=%v", s.Translation, tc.wantTranslation)
			}
		})
	}
}

func TestView_MasterMode(t *testing.T) {
	t.Parallel()
	st := progression.Initial()
	st.Mastery["cafe_order"] = progression.MasteryCap
	f := newFixture(t, func(c *session.Config) { c.Progress = progression.NewStore(st) })
	f.start(t, "cafe_order")

	v := f.ctrl.View()
	if !v.MasterMode || v.Mastery != 100 {
		t.Errorf("master = %v mastery = %v", v.MasterMode, v.Mastery)
	}
	if !f.responder.Calls()[0].Block.MasterMode {
		t.Error("opening block not in master mode")
	}
}

// ---- playback ----------------------------------------------------------------

func TestReplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")
	if err := f.ctrl.Send(context.Background(), "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	history := f.ctrl.View().History
	before := f.player.Plays()

	if err := f.ctrl.Replay(history[0].ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if f.player.Plays() != before+1 {
		t.Errorf("plays = %d, want %d", f.player.Plays(), before+1)
	}
	if err := f.ctrl.Replay(history[1].ID); !errors.Is(err, session.ErrNoAudio) {
		t.Errorf("user turn: err = %v, want ErrNoAudio", err)
	}
	if err := f.ctrl.Replay("missing"); !errors.Is(err, session.ErrUnknownTurn) {
		t.Errorf("missing: err = %v, want ErrUnknownTurn", err)
	}
}

// heldPlayer returns playbacks that only end when cancelled.
type heldPlayer struct {
	mu    sync.Mutex
	plays []*playback.Playback
}

func (p *heldPlayer) Play(context.Context, *audio.Samples) (*playback.Playback, error) {
	pb := playback.NewPlayback(nil)
	p.mu.Lock()
	p.plays = append(p.plays, pb)
	p.mu.Unlock()
	return pb, nil
}

func (p *heldPlayer) get(i int) *playback.Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays[i]
}

func TestPlayback_PreemptAndStop(t *testing.T) {
	t.Parallel()
	player := &heldPlayer{}
	f := newFixture(t, func(c *session.Config) { c.Player = player })
	f.start(t, "cafe_order")

	opening := f.ctrl.View().History[0].ID
	if id := f.ctrl.View().PlayingTurnID; id != opening {
		t.Fatalf("PlayingTurnID = %q, want %q", id, opening)
	}

	if err := f.ctrl.Replay(opening); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	first := player.get(0)
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first playback not preempted")
	}
	if !errors.Is(first.Err(), playback.ErrCanceled) {
		t.Errorf("first playback err = %v, want ErrCanceled", first.Err())
	}

	f.ctrl.StopPlayback()
	if id := f.ctrl.View().PlayingTurnID; id != "" {
		t.Errorf("PlayingTurnID = %q after stop", id)
	}
	if err := player.get(1).Err(); !errors.Is(err, playback.ErrCanceled) {
		t.Errorf("second playback err = %v, want ErrCanceled", err)
	}
}

// ---- capture -----------------------------------------------------------------

func TestStartCapture_Unavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *session.Config) { c.Recognizer = nil })
	f.start(t, "cafe_order")

	err := f.ctrl.StartCapture(context.Background())
	if !errors.Is(err, capture.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	notices := f.sink.notices()
	if len(notices) != 1 || !strings.Contains(notices[0], "not available") {
		t.Errorf("notices = %v", notices)
	}
	if f.ctrl.View().Listening {
		t.Error("listening after failed start")
	}
}

func TestStartCapture_PermissionDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.rec.startErr = capture.ErrPermissionDenied
	f.start(t, "cafe_order")

	if err := f.ctrl.StartCapture(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	notices := f.sink.notices()
	if len(notices) != 1 || !strings.Contains(notices[0], "denied") {
		t.Errorf("notices = %v", notices)
	}
}

func TestStartCapture_RequiresConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := f.ctrl.StartCapture(context.Background()); !errors.Is(err, session.ErrNotChatting) {
		t.Fatalf("err = %v, want ErrNotChatting", err)
	}
}

func TestCapture_DraftFollowsRecognizer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.start(t, "cafe_order")
	if err := f.ctrl.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if !f.ctrl.View().Listening {
		t.Error("view not listening")
	}

	f.rec.partial("could I")
	f.rec.final("could I get a muffin")
	if err := f.ctrl.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	v := f.ctrl.View()
	if v.Draft != "could I get a muffin" {
		t.Errorf("draft = %q", v.Draft)
	}
	if v.Listening {
		t.Error("still listening after StopCapture")
	}
}

// ---- end to end with real orchestrator and bridge ----------------------------

func TestController_WithProviders(t *testing.T) {
	t.Parallel()
	llmProvider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"ai_response_text":"Hi! What can I get you?","ai_response_translation":"你好！","suggested_user_script":"A latte, please.","script_translation":"一杯拿铁。"}`,
		},
	}
	ttsProvider := &ttsmock.Provider{
		SynthesizeResult: &tts.Payload{Data: []byte{0x00, 0x10, 0x00, 0xf0}, Encoding: tts.EncodingPCM, SampleRate: 24000},
	}
	ctrl, err := session.New(session.Config{
		Catalog:   catalog.Default(),
		Responder: conversation.New(llmProvider),
		Speech:    speech.New(ttsProvider),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.StartTopic(context.Background(), "cafe_order"); err != nil {
		t.Fatalf("StartTopic: %v", err)
	}
	if err := ctrl.Send(context.Background(), "A cappuccino, please."); err != nil {
		t.Fatalf("Send: %v", err)
	}

	v := ctrl.View()
	if len(v.History) != 3 {
		t.Fatalf("history = %d, want 3", len(v.History))
	}
	ai := v.History[2]
	if ai.Text != "Hi! What can I get you?" || ai.SuggestedScript != "A latte, please." {
		t.Errorf("ai turn = %+v", ai)
	}
	if ai.Audio == nil || len(ai.Audio.Data) != 2 || ai.Audio.SampleRate != 24000 {
		t.Errorf("audio = %+v", ai.Audio)
	}

	calls := llmProvider.Calls()
	if len(calls) != 2 {
		t.Fatalf("llm calls = %d", len(calls))
	}
	msg := calls[1].Req.Messages[0].Content
	if !strings.Contains(msg, "AI: Hi! What can I get you?") || !strings.HasSuffix(msg, "User: A cappuccino, please.\n\nRespond in JSON.") {
		t.Errorf("transcript =\n%s", msg)
	}
	tcalls := ttsProvider.Calls()
	if len(tcalls) != 2 || tcalls[0].Req.Voice.ID != "Kore" {
		t.Errorf("tts calls = %+v", tcalls)
	}
}
