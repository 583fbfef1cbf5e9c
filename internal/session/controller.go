// Package session drives one learner's conversation: choosing a persona,
// topic and difficulty mode, and running each turn through progression,
// instruction composition, the model round trip and speech synthesis.
//
// The Controller is a state machine:
//
//	Idle -> TopicLoading -> Chatting <-> TurnInFlight
//	Chatting -> Idle (Leave)
//
// The loading flag is set before any network call starts and cleared when the
// turn has returned, including a turn abandoned by Leave; a second Send or
// StartTopic while it is set is rejected with ErrBusy, so at most one model
// call runs per session. Network calls run without holding the controller
// lock, so View stays responsive during a turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/flowtalk/internal/capture"
	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/conversation"
	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/internal/playback"
	"github.com/MrWong99/flowtalk/internal/progression"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/internal/speech"
	"github.com/MrWong99/flowtalk/pkg/audio"
)

var (
	// ErrLocked is returned when a persona or topic is above the learner's
	// level. Nothing changes.
	ErrLocked = errors.New("session: locked at current level")

	// ErrUnknownTopic is returned for a topic id the catalog does not have.
	ErrUnknownTopic = errors.New("session: unknown topic")

	// ErrUnknownPersona is returned for a persona id the catalog does not have.
	ErrUnknownPersona = errors.New("session: unknown persona")

	// ErrBusy is returned while a turn is in flight.
	ErrBusy = errors.New("session: a turn is in progress")

	// ErrNotChatting is returned by Send outside a conversation.
	ErrNotChatting = errors.New("session: no conversation in progress")

	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("session: message is empty")

	// ErrUnknownTurn is returned by Replay for a turn id not in history.
	ErrUnknownTurn = errors.New("session: unknown turn")

	// ErrNoAudio is returned by Replay for a turn without audio.
	ErrNoAudio = errors.New("session: turn has no audio")
)

// Turn kinds for metrics.
const (
	turnOpening = "opening"
	turnMessage = "message"
)

// Responder produces one validated reply per call.
type Responder interface {
	Respond(ctx context.Context, history []conversation.HistoryEntry, utterance string, block prompt.Block) (*conversation.Reply, error)
}

// Synthesizer turns reply text into samples.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*audio.Samples, error)
}

// Config holds a Controller's dependencies.
type Config struct {
	// Catalog, Responder and Speech are required.
	Catalog   *catalog.Catalog
	Responder Responder
	Speech    Synthesizer

	// Progress defaults to a fresh store seeded with progression.Initial.
	Progress *progression.Store

	// Player defaults to playback.Discard.
	Player playback.Player

	// Recognizer defaults to capture.Unavailable.
	Recognizer capture.Recognizer

	// Listener receives events. Optional.
	Listener Listener

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// DefaultPersona is selected at start. Defaults to the first catalog
	// persona.
	DefaultPersona string

	// DefaultMode defaults to prompt.DefaultMode.
	DefaultMode prompt.Mode

	// TurnTimeout bounds each turn's network calls. Zero means no bound.
	TurnTimeout time.Duration

	// SessionID defaults to a random UUID.
	SessionID string
}

// Controller runs one learner session. All methods are safe for concurrent
// use.
type Controller struct {
	id         string
	catalog    *catalog.Catalog
	responder  Responder
	speech     Synthesizer
	progress   *progression.Store
	player     playback.Player
	recognizer capture.Recognizer
	listener   Listener
	metrics    *observe.Metrics
	timeout    time.Duration

	mu      sync.Mutex
	state   State
	loading bool
	persona catalog.Persona
	topic   *catalog.Topic
	mode    prompt.Mode
	history []Turn
	// gen increments whenever the conversation is abandoned so results of
	// an older turn are dropped.
	gen uint64
	// cancelTurn cancels the network calls of the turn in flight.
	cancelTurn context.CancelFunc

	playing  *playback.Playback
	playID   string
	closed   bool
	draftMu  sync.Mutex
	draft    string
	captureT time.Time
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Catalog == nil {
		errs = append(errs, errors.New("session: catalog is required"))
	}
	if cfg.Responder == nil {
		errs = append(errs, errors.New("session: responder is required"))
	}
	if cfg.Speech == nil {
		errs = append(errs, errors.New("session: speech synthesizer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	c := &Controller{
		id:         cfg.SessionID,
		catalog:    cfg.Catalog,
		responder:  cfg.Responder,
		speech:     cfg.Speech,
		progress:   cfg.Progress,
		player:     cfg.Player,
		recognizer: cfg.Recognizer,
		listener:   cfg.Listener,
		metrics:    cfg.Metrics,
		timeout:    cfg.TurnTimeout,
		mode:       cfg.DefaultMode,
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.progress == nil {
		c.progress = progression.NewStore(progression.Initial())
	}
	if c.player == nil {
		c.player = playback.Discard{}
	}
	if c.recognizer == nil {
		c.recognizer = capture.Unavailable{}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if !c.mode.IsValid() {
		c.mode = prompt.DefaultMode
	}

	personas := cfg.Catalog.ListPersonas()
	if len(personas) == 0 {
		return nil, errors.New("session: catalog has no personas")
	}
	c.persona = personas[0]
	if cfg.DefaultPersona != "" {
		p, ok := cfg.Catalog.Persona(cfg.DefaultPersona)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, cfg.DefaultPersona)
		}
		c.persona = p
	}

	c.recognizer.OnPartialText(func(text string) { c.captured(text, false) })
	c.recognizer.OnFinalText(func(text string) { c.captured(text, true) })
	c.recognizer.OnError(c.captureFailed)
	c.recognizer.OnEnd(func() {
		c.emit(Event{Kind: EventCapture, Text: c.Draft(), Listening: false})
	})

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// SelectPersona makes id the active persona. A locked persona is refused with
// ErrLocked and nothing changes.
func (c *Controller) SelectPersona(id string) error {
	p, ok := c.catalog.Persona(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	if !p.IsUnlocked(c.progress.Level()) {
		return ErrLocked
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.persona = p
	c.mu.Unlock()
	return nil
}

// SetMode changes the difficulty mode for subsequent turns.
func (c *Controller) SetMode(m prompt.Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("session: invalid mode %v", m)
	}
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	return nil
}

// StartTopic opens a conversation about topicID and waits for the opening
// turn. An unknown or locked topic returns ErrUnknownTopic or ErrLocked with
// no state change. If the opening turn fails the controller returns to Idle.
func (c *Controller) StartTopic(ctx context.Context, topicID string) error {
	ctx = observe.WithSession(ctx, c.id)
	topic, ok := c.catalog.Topic(topicID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topicID)
	}
	if !topic.IsUnlocked(c.progress.Level()) {
		return ErrLocked
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	gen := c.gen
	turnCtx, cancel := context.WithCancel(ctx)
	c.state = StateTopicLoading
	c.loading = true
	c.cancelTurn = cancel
	c.topic = &topic
	c.history = nil
	persona, mode := c.persona, c.mode
	c.stopPlaybackLocked()
	c.mu.Unlock()

	c.stopCapture()
	c.clearDraft()
	c.emit(Event{Kind: EventState, State: StateTopicLoading})

	log := observe.SessionLogger(ctx, c.id).With("persona", persona.ID, "topic", topic.ID)
	snap := c.progress.Snapshot()
	block := prompt.Compose(prompt.Input{
		Persona:      persona,
		Topic:        topic,
		Mode:         mode,
		Level:        snap.Level(),
		Relationship: snap.RelationshipLevel(persona.ID),
		Mastery:      snap.MasteryPercent(topic.ID),
	})
	utterance := fmt.Sprintf("Let's start the roleplay topic: %s. %s", topic.Title, topic.OpeningPrompt)

	turn, err := c.runTurn(turnCtx, nil, utterance, block, persona.VoiceName)

	c.mu.Lock()
	c.finishTurnLocked()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.state = StateIdle
		c.topic = nil
		c.mu.Unlock()
		c.metrics.RecordTurn(ctx, turnOpening, observe.StatusError)
		log.Warn("opening turn failed", "err", err)
		c.emit(Event{Kind: EventNotice, Notice: noticeFor(err), Err: err})
		c.emit(Event{Kind: EventState, State: StateIdle})
		return err
	}
	c.state = StateChatting
	c.history = append(c.history, *turn)
	c.mu.Unlock()

	c.metrics.RecordTurn(ctx, turnOpening, observe.StatusOK)
	log.Info("topic started")
	c.emit(Event{Kind: EventTurn, Turn: turn})
	c.emit(Event{Kind: EventState, State: StateChatting})
	c.play(turn, gen)
	return nil
}

// Send submits the learner's message. Any running voice capture is stopped
// first. The progression reward is applied before the model is called and is
// kept even when the turn fails. On failure the user turn stays in history,
// no AI turn is added and the controller returns to Chatting.
func (c *Controller) Send(ctx context.Context, text string) error {
	ctx = observe.WithSession(ctx, c.id)
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	switch {
	case c.loading:
		c.mu.Unlock()
		return ErrBusy
	case c.state != StateChatting || c.topic == nil:
		c.mu.Unlock()
		return ErrNotChatting
	}
	c.loading = true
	c.state = StateTurnInFlight
	gen := c.gen
	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelTurn = cancel
	c.mu.Unlock()

	c.stopCapture()
	c.clearDraft()

	c.mu.Lock()
	if gen != c.gen {
		c.finishTurnLocked()
		c.mu.Unlock()
		return ErrNotChatting
	}
	persona, topic, mode := c.persona, *c.topic, c.mode
	history := toHistory(c.history)
	userTurn := Turn{ID: uuid.NewString(), Role: conversation.RoleUser, Text: text, At: time.Now()}
	c.history = append(c.history, userTurn)
	snap := c.progress.Reward(persona.ID, topic.ID)
	c.mu.Unlock()

	c.metrics.RecordReward(ctx, persona.ID, topic.ID)
	c.emit(Event{Kind: EventTurn, Turn: &userTurn})
	c.emit(Event{Kind: EventState, State: StateTurnInFlight})

	block := prompt.Compose(prompt.Input{
		Persona:      persona,
		Topic:        topic,
		Mode:         mode,
		Level:        snap.Level(),
		Relationship: snap.RelationshipLevel(persona.ID),
		Mastery:      snap.MasteryPercent(topic.ID),
	})
	log := observe.SessionLogger(ctx, c.id).With("persona", persona.ID, "topic", topic.ID)

	turn, err := c.runTurn(turnCtx, history, text, block, persona.VoiceName)

	c.mu.Lock()
	c.finishTurnLocked()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateChatting
	if err != nil {
		c.mu.Unlock()
		c.metrics.RecordTurn(ctx, turnMessage, observe.StatusError)
		log.Warn("turn failed", "err", err)
		c.emit(Event{Kind: EventNotice, Notice: noticeFor(err), Err: err})
		c.emit(Event{Kind: EventState, State: StateChatting})
		return err
	}
	c.history = append(c.history, *turn)
	c.mu.Unlock()

	c.metrics.RecordTurn(ctx, turnMessage, observe.StatusOK)
	log.Debug("turn completed", "master_mode", block.MasterMode)
	c.emit(Event{Kind: EventTurn, Turn: turn})
	c.emit(Event{Kind: EventState, State: StateChatting})
	c.play(turn, gen)
	return nil
}

// runTurn performs the model round trip followed by synthesis. The reply
// must resolve before synthesis starts.
func (c *Controller) runTurn(ctx context.Context, history []conversation.HistoryEntry, utterance string, block prompt.Block, voice string) (*Turn, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	reply, err := c.responder.Respond(ctx, history, utterance, block)
	if err != nil {
		return nil, err
	}
	samples, err := c.speech.Synthesize(ctx, reply.Text, voice)
	if err != nil {
		return nil, err
	}
	return &Turn{
		ID:                uuid.NewString(),
		Role:              conversation.RoleAI,
		Text:              reply.Text,
		Translation:       reply.Translation,
		SuggestedScript:   reply.SuggestedScript,
		ScriptTranslation: reply.ScriptTranslation,
		Feedback:          reply.Feedback,
		Audio:             samples,
		At:                time.Now(),
	}, nil
}

// Leave abandons the conversation and returns to Idle. History is
// discarded. A turn still in flight is cancelled and its result dropped;
// Send and StartTopic keep returning ErrBusy until it has returned.
func (c *Controller) Leave() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = StateIdle
	if c.cancelTurn != nil {
		c.cancelTurn()
	}
	c.topic = nil
	c.history = nil
	c.stopPlaybackLocked()
	c.mu.Unlock()

	c.stopCapture()
	c.clearDraft()
	c.emit(Event{Kind: EventState, State: StateIdle})
}

// Replay plays the audio of a previous AI turn again.
func (c *Controller) Replay(turnID string) error {
	c.mu.Lock()
	gen := c.gen
	var found *Turn
	for i := range c.history {
		if c.history[i].ID == turnID {
			t := c.history[i]
			found = &t
			break
		}
	}
	c.mu.Unlock()
	if found == nil {
		return ErrUnknownTurn
	}
	if found.Audio == nil || len(found.Audio.Data) == 0 {
		return ErrNoAudio
	}
	c.play(found, gen)
	return nil
}

// StopPlayback cancels the current playback, if any.
func (c *Controller) StopPlayback() {
	c.mu.Lock()
	id := c.playID
	c.stopPlaybackLocked()
	c.mu.Unlock()
	if id != "" {
		c.emit(Event{Kind: EventPlayback, TurnID: id, Playing: false})
	}
}

// StartCapture begins voice input. Failures raise a notice and leave
// capture off; the next attempt may succeed.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateChatting || c.loading {
		c.mu.Unlock()
		return ErrNotChatting
	}
	c.mu.Unlock()

	c.clearDraft()
	if err := c.recognizer.Start(ctx); err != nil {
		c.emit(Event{Kind: EventNotice, Notice: noticeFor(err), Err: err})
		return err
	}
	c.draftMu.Lock()
	c.captureT = time.Now()
	c.draftMu.Unlock()
	c.emit(Event{Kind: EventCapture, Listening: true})
	return nil
}

// StopCapture ends voice input and returns once all captured text has been
// delivered.
func (c *Controller) StopCapture() error {
	return c.recognizer.Stop()
}

// Draft returns the text captured by voice input so far.
func (c *Controller) Draft() string {
	c.draftMu.Lock()
	defer c.draftMu.Unlock()
	return c.draft
}

// View returns a snapshot of the session.
func (c *Controller) View() View {
	snap := c.progress.Snapshot()

	c.mu.Lock()
	v := View{
		SessionID:     c.id,
		State:         c.state,
		Loading:       c.loading,
		Persona:       c.persona,
		Mode:          c.mode,
		TotalXP:       snap.TotalXP,
		Level:         snap.Level(),
		LevelProgress: snap.LevelProgressPercent(),
		Streak:        snap.Streak,
		Relationship:  snap.RelationshipLevel(c.persona.ID),
		History:       append([]Turn(nil), c.history...),
		PlayingTurnID: c.playID,
	}
	if c.topic != nil {
		t := *c.topic
		v.Topic = &t
		v.Mastery = snap.MasteryPercent(t.ID)
		v.MasterMode = snap.IsMaster(t.ID)
	}
	c.mu.Unlock()

	v.Suggestion = suggestionFor(v.History, v.Mode, v.Loading)
	v.Listening = c.recognizer.Listening()
	v.Draft = c.Draft()
	return v
}

// Progress returns the learner's progression store.
func (c *Controller) Progress() *progression.Store { return c.progress }

// Close leaves the conversation and releases capture and playback. The
// controller must not be used afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Leave()
	err := c.recognizer.Stop()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
	return err
}

// suggestionFor derives the script helper from the last AI turn.
func suggestionFor(history []Turn, mode prompt.Mode, loading bool) Suggestion {
	if loading || len(history) == 0 || !mode.ShowScript() {
		return Suggestion{}
	}
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role != conversation.RoleAI {
			continue
		}
		s := Suggestion{Visible: true, Text: t.SuggestedScript}
		if mode.ShowTranslation() {
			s.Translation = t.ScriptTranslation
		}
		return s
	}
	return Suggestion{}
}

func toHistory(turns []Turn) []conversation.HistoryEntry {
	out := make([]conversation.HistoryEntry, len(turns))
	for i, t := range turns {
		out[i] = conversation.HistoryEntry{Role: t.Role, Text: t.Text}
	}
	return out
}

// play starts playback of t, preempting whatever is playing. Nothing plays
// if the conversation of generation gen has been left in the meantime.
func (c *Controller) play(t *Turn, gen uint64) {
	if t.Audio == nil {
		return
	}
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}
	pb, err := c.player.Play(context.Background(), t.Audio)
	if err != nil {
		observe.SessionLogger(context.Background(), c.id).Warn("playback failed", "turn_id", t.ID, "err", err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		pb.Cancel()
		return
	}
	prev := c.playID
	c.stopPlaybackLocked()
	c.playing, c.playID = pb, t.ID
	c.mu.Unlock()

	if prev != "" {
		c.emit(Event{Kind: EventPlayback, TurnID: prev, Playing: false})
	}
	c.emit(Event{Kind: EventPlayback, TurnID: t.ID, Playing: true})
	go func() {
		<-pb.Done()
		c.mu.Lock()
		current := c.playing == pb
		if current {
			c.playing, c.playID = nil, ""
		}
		c.mu.Unlock()
		if current {
			c.emit(Event{Kind: EventPlayback, TurnID: t.ID, Playing: false})
		}
	}()
}

// finishTurnLocked clears the loading flag once a turn has returned. c.mu
// must be held.
func (c *Controller) finishTurnLocked() {
	c.loading = false
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
}

// stopPlaybackLocked cancels the current playback. c.mu must be held.
func (c *Controller) stopPlaybackLocked() {
	if c.playing != nil {
		c.playing.Cancel()
	}
	c.playing, c.playID = nil, ""
}

func (c *Controller) stopCapture() {
	if err := c.recognizer.Stop(); err != nil {
		observe.SessionLogger(context.Background(), c.id).Warn("stop capture", "err", err)
	}
}

func (c *Controller) captured(text string, final bool) {
	c.draftMu.Lock()
	c.draft = text
	started := c.captureT
	c.draftMu.Unlock()
	if final && !started.IsZero() {
		observe.SessionLogger(context.Background(), c.id).Debug("speech captured", "after", time.Since(started))
	}
	c.emit(Event{Kind: EventCapture, Text: text, Final: final, Listening: true})
}

func (c *Controller) captureFailed(err error) {
	c.emit(Event{Kind: EventNotice, Notice: noticeFor(err), Err: err})
}

func (c *Controller) clearDraft() {
	c.draftMu.Lock()
	c.draft = ""
	c.captureT = time.Time{}
	c.draftMu.Unlock()
}

func (c *Controller) emit(e Event) {
	if c.listener != nil {
		c.listener(e)
	}
}

// noticeFor maps an error to the message shown to the learner.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, conversation.ErrSchemaValidation):
		return "The reply came back garbled. Please try again."
	case errors.Is(err, conversation.ErrTransport):
		return "Couldn't reach the conversation service. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The reply took too long. Please try again."
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Microphone access was denied."
	case errors.Is(err, capture.ErrUnavailable):
		return "Voice input is not available."
	case errors.Is(err, speech.ErrTransport), errors.Is(err, speech.ErrNoAudioProduced):
		return "Couldn't generate audio for the reply. Please try again."
	default:
		var de *speech.DecodeError
		if errors.As(err, &de) {
			return "Couldn't generate audio for the reply. Please try again."
		}
		return "Something went wrong. Please try again."
	}
}
