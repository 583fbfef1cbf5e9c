package session

import (
	"time"

	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/conversation"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/pkg/audio"
)

// State is a controller state.
type State int

const (
	// StateIdle is the topic picker; no conversation is running.
	StateIdle State = iota
	// StateTopicLoading is waiting for the opening turn of a new topic.
	StateTopicLoading
	// StateChatting is an open conversation waiting for the learner.
	StateChatting
	// StateTurnInFlight is waiting for the reply to the learner's message.
	StateTurnInFlight
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTopicLoading:
		return "topic_loading"
	case StateChatting:
		return "chatting"
	case StateTurnInFlight:
		return "turn_in_flight"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Turn is one line of the conversation.
type Turn struct {
	ID                string            `json:"id"`
	Role              conversation.Role `json:"role"`
	Text              string            `json:"text"`
	Translation       string            `json:"translation,omitempty"`
	SuggestedScript   string            `json:"suggested_script,omitempty"`
	ScriptTranslation string            `json:"script_translation,omitempty"`
	Feedback          string            `json:"feedback,omitempty"`
	Audio             *audio.Samples    `json:"-"`
	At                time.Time         `json:"at"`
}

// Suggestion is the "what to say next" helper derived from the last reply.
type Suggestion struct {
	Visible     bool   `json:"visible"`
	Text        string `json:"text,omitempty"`
	Translation string `json:"translation,omitempty"`
}

// View is an immutable snapshot of everything a front-end renders.
type View struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	Loading   bool   `json:"loading"`

	Persona catalog.Persona `json:"persona"`
	Topic   *catalog.Topic  `json:"topic,omitempty"`
	Mode    prompt.Mode     `json:"mode"`

	TotalXP       int     `json:"total_xp"`
	Level         int     `json:"level"`
	LevelProgress float64 `json:"level_progress"`
	Streak        int     `json:"streak"`
	Relationship  int     `json:"relationship"`
	Mastery       float64 `json:"mastery"`
	MasterMode    bool    `json:"master_mode"`

	History    []Turn     `json:"history"`
	Suggestion Suggestion `json:"suggestion"`

	// PlayingTurnID is the turn whose audio is playing, or "".
	PlayingTurnID string `json:"playing_turn_id,omitempty"`

	Listening bool   `json:"listening"`
	Draft     string `json:"draft,omitempty"`
}

// EventKind classifies controller events.
type EventKind string

const (
	EventState    EventKind = "state"
	EventTurn     EventKind = "turn"
	EventNotice   EventKind = "notice"
	EventCapture  EventKind = "capture"
	EventPlayback EventKind = "playback"
)

// Event is pushed to the Listener as the controller changes.
type Event struct {
	Kind EventKind

	// State is set for EventState.
	State State

	// Turn is set for EventTurn.
	Turn *Turn

	// Notice is the user-visible message for EventNotice; Err is its cause.
	Notice string
	Err    error

	// Text and Final describe captured speech for EventCapture. Listening is
	// false once capture has ended.
	Text      string
	Final     bool
	Listening bool

	// TurnID and Playing describe EventPlayback.
	TurnID  string
	Playing bool
}

// Listener receives controller events. It is called synchronously, never
// with the controller lock held, so it must return promptly.
type Listener func(Event)
