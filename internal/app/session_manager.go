package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/flowtalk/internal/capture"
	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/internal/progression"
	"github.com/MrWong99/flowtalk/internal/session"
)

// ErrUnknownSession is returned for a session id the manager does not hold.
var ErrUnknownSession = errors.New("app: unknown session")

// SessionInfo holds metadata about an open session.
type SessionInfo struct {
	// SessionID is the controller's id.
	SessionID string `json:"session_id"`

	// Transport names the front-end that opened the session ("ws",
	// "console").
	Transport string `json:"transport"`

	// Remote identifies the client, e.g. its address. Optional.
	Remote string `json:"remote,omitempty"`

	// StartedAt is when the session was opened.
	StartedAt time.Time `json:"started_at"`
}

// OpenOptions describes a new session.
type OpenOptions struct {
	Transport string
	Remote    string

	// Listener receives the controller's events.
	Listener session.Listener

	// Source supplies microphone audio. Voice input is unavailable when it
	// is nil or no speech recognition backend is configured.
	Source capture.Source
}

type managedSession struct {
	info SessionInfo
	ctrl *session.Controller
}

// SessionManager opens and tracks learner sessions. Every session gets its
// own progression store seeded from the configured starting profile. All
// exported methods are safe for concurrent use.
type SessionManager struct {
	app *App

	mu       sync.Mutex
	defaults config.SessionConfig
	sessions map[string]*managedSession
}

func newSessionManager(a *App) *SessionManager {
	return &SessionManager{
		app:      a,
		defaults: a.cfg.Session,
		sessions: make(map[string]*managedSession),
	}
}

func (sm *SessionManager) setDefaults(s config.SessionConfig) {
	sm.mu.Lock()
	sm.defaults = s
	sm.mu.Unlock()
}

// Open creates a session controller and starts tracking it.
func (sm *SessionManager) Open(ctx context.Context, opts OpenOptions) (*session.Controller, error) {
	sm.mu.Lock()
	defaults := sm.defaults
	sm.mu.Unlock()

	a := sm.app
	player, err := a.players()
	if err != nil {
		return nil, fmt.Errorf("app: open session: playback: %w", err)
	}

	var rec capture.Recognizer
	if a.providers.STT != nil && opts.Source != nil {
		rec = capture.NewSTTRecognizer(a.providers.STT, opts.Source,
			capture.WithLanguage(defaults.Language),
			capture.WithProviderName(nameOr(a.providers.STTName, "stt")),
			capture.WithMetrics(a.metrics),
		)
	}

	ctrl, err := session.New(session.Config{
		Catalog:        a.catalog,
		Responder:      a.responder,
		Speech:         a.speech,
		Progress:       progression.NewStore(defaults.InitialProgress()),
		Player:         player,
		Recognizer:     rec,
		Listener:       opts.Listener,
		Metrics:        a.metrics,
		DefaultPersona: defaults.DefaultPersona,
		DefaultMode:    defaults.Mode(),
		TurnTimeout:    defaults.TurnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	info := SessionInfo{
		SessionID: ctrl.ID(),
		Transport: opts.Transport,
		Remote:    opts.Remote,
		StartedAt: time.Now().UTC(),
	}
	sm.mu.Lock()
	sm.sessions[info.SessionID] = &managedSession{info: info, ctrl: ctrl}
	n := len(sm.sessions)
	sm.mu.Unlock()

	slog.InfoContext(ctx, "session opened",
		"session_id", info.SessionID,
		"transport", info.Transport,
		"remote", info.Remote,
		"voice_input", rec != nil,
		"open_sessions", n,
	)
	return ctrl, nil
}

// Get returns the controller for id.
func (sm *SessionManager) Get(id string) (*session.Controller, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	return ms.ctrl, true
}

// Close closes and forgets the session id.
func (sm *SessionManager) Close(id string) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}

	err := ms.ctrl.Close()
	slog.Info("session closed",
		"session_id", id,
		"duration", time.Since(ms.info.StartedAt).Round(time.Second),
	)
	return err
}

// CloseAll closes every open session.
func (sm *SessionManager) CloseAll() error {
	sm.mu.Lock()
	open := sm.sessions
	sm.sessions = make(map[string]*managedSession)
	sm.mu.Unlock()

	var errs []error
	for id, ms := range open {
		if err := ms.ctrl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// List returns metadata for every open session, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		out = append(out, ms.info)
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Len returns the number of open sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}
