package server

import (
	"encoding/base64"
	"errors"

	"github.com/MrWong99/flowtalk/internal/capture"
	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/internal/session"
	"github.com/MrWong99/flowtalk/pkg/audio"
)

// Client message types. Binary frames carry microphone audio as 16-bit
// little-endian mono PCM at the rate announced by the last voice_start.
const (
	msgSelectPersona = "select_persona"
	msgSetMode       = "set_mode"
	msgStartTopic    = "start_topic"
	msgSend          = "send"
	msgLeave         = "leave"
	msgView          = "view"
	msgVoiceStart    = "voice_start"
	msgVoiceStop     = "voice_stop"
	msgReplay        = "replay"
	msgStopPlayback  = "stop_playback"
)

// Server message types.
const (
	msgTypeView     = "view"
	msgTypeTurn     = "turn"
	msgTypeNotice   = "notice"
	msgTypeCapture  = "capture"
	msgTypePlayback = "playback"
	msgTypeError    = "error"
)

// clientMessage is a command from the browser.
type clientMessage struct {
	Type string `json:"type"`

	// ID is echoed in the error reply for this command. Optional.
	ID string `json:"id,omitempty"`

	Persona string `json:"persona,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Text    string `json:"text,omitempty"`
	TurnID  string `json:"turn_id,omitempty"`

	// SampleRate of the audio frames that follow voice_start. Defaults to
	// 16000.
	SampleRate int `json:"sample_rate,omitempty"`

	// Denied reports that the browser refused microphone access.
	Denied bool `json:"denied,omitempty"`
}

// serverMessage is pushed to the browser.
type serverMessage struct {
	Type string `json:"type"`

	View   *session.View `json:"view,omitempty"`
	Turn   *turnPayload  `json:"turn,omitempty"`
	Notice string        `json:"notice,omitempty"`

	// Capture and playback updates.
	Text      string `json:"text,omitempty"`
	Final     bool   `json:"final,omitempty"`
	Listening bool   `json:"listening,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Playing   bool   `json:"playing,omitempty"`

	// Error replies.
	ID    string `json:"id,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// turnPayload is a turn with its audio as base64 16-bit PCM.
type turnPayload struct {
	session.Turn
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

func newTurnPayload(t *session.Turn) *turnPayload {
	p := &turnPayload{Turn: *t}
	if s := t.Audio; s != nil && len(s.Data) > 0 {
		p.Audio = base64.StdEncoding.EncodeToString(audio.EncodePCM16(s))
		p.SampleRate = s.SampleRate
		p.Channels = s.Channels
	}
	return p
}

// eventMessage converts a controller event. EventState has no direct
// message; the connection answers it with a fresh view.
func eventMessage(e session.Event) (serverMessage, bool) {
	switch e.Kind {
	case session.EventTurn:
		return serverMessage{Type: msgTypeTurn, Turn: newTurnPayload(e.Turn)}, true
	case session.EventNotice:
		return serverMessage{Type: msgTypeNotice, Notice: e.Notice}, true
	case session.EventCapture:
		return serverMessage{Type: msgTypeCapture, Text: e.Text, Final: e.Final, Listening: e.Listening}, true
	case session.EventPlayback:
		return serverMessage{Type: msgTypePlayback, TurnID: e.TurnID, Playing: e.Playing}, true
	}
	return serverMessage{}, false
}

// errorCode maps command errors to stable codes for the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrLocked):
		return "locked"
	case errors.Is(err, session.ErrBusy):
		return "busy"
	case errors.Is(err, session.ErrUnknownTopic):
		return "unknown_topic"
	case errors.Is(err, session.ErrUnknownPersona):
		return "unknown_persona"
	case errors.Is(err, session.ErrNotChatting):
		return "not_chatting"
	case errors.Is(err, session.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, session.ErrUnknownTurn):
		return "unknown_turn"
	case errors.Is(err, session.ErrNoAudio):
		return "no_audio"
	case errors.Is(err, capture.ErrUnavailable):
		return "voice_unavailable"
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, capture.ErrActive):
		return "already_listening"
	case errors.Is(err, errBadMode):
		return "bad_mode"
	case errors.Is(err, errBadMessage):
		return "bad_message"
	}
	return "turn_failed"
}

var (
	errBadMode    = errors.New("server: unknown mode")
	errBadMessage = errors.New("server: unknown message type")
)

// catalogResponse is served by GET /api/catalog.
type catalogResponse struct {
	Personas []catalog.Persona                    `json:"personas"`
	Topics   []catalog.Topic                      `json:"topics"`
	ByGroup  map[catalog.Category][]catalog.Topic `json:"by_category"`
	Modes    []modeInfo                           `json:"modes"`
}

type modeInfo struct {
	Mode prompt.Mode `json:"mode"`
	Name string      `json:"name"`
}
