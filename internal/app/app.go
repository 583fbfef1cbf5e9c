// Package app wires the FlowTalk subsystems into a running application.
//
// New builds everything that is shared between learners: the catalog, the
// conversation orchestrator, the speech bridge and the audio output. Each
// learner then gets their own session controller from the [SessionManager].
// Shutdown closes every open session and runs the registered closers.
//
// For testing, inject doubles via functional options (WithCatalog,
// WithPlayerFactory, ...). When an option is not provided, New builds the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/internal/conversation"
	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/internal/playback"
	"github.com/MrWong99/flowtalk/internal/speech"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
)

// Providers holds one backend per capability. LLM and TTS are required; a
// nil STT disables voice input. Populated by main via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
	STT stt.Provider

	// Names are used in logs and metrics. Empty names fall back to the
	// capability name.
	LLMName string
	TTSName string
	STTName string
}

// PlayerFactory returns the audio output for a new session.
type PlayerFactory func() (playback.Player, error)

// App owns the shared subsystems and the session manager.
type App struct {
	cfg       *config.Config
	providers *Providers

	catalog   *catalog.Catalog
	metrics   *observe.Metrics
	responder *conversation.Orchestrator
	speech    *speech.Bridge
	players   PlayerFactory
	sessions  *SessionManager

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithCatalog injects a catalog instead of loading cfg.Catalog.Path.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics injects the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPlayerFactory injects the per-session audio output instead of the one
// selected by cfg.Playback.
func WithPlayerFactory(f PlayerFactory) Option {
	return func(a *App) { a.players = f }
}

// New validates providers and builds the shared subsystems.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: llm and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}
	a.initPipeline()

	a.sessions = newSessionManager(a)
	a.closers = append(a.closers, a.sessions.CloseAll)

	slog.InfoContext(ctx, "app initialised",
		"personas", len(a.catalog.ListPersonas()),
		"topics", len(a.catalog.ListTopics()),
		"llm", nameOr(providers.LLMName, "llm"),
		"tts", nameOr(providers.TTSName, "tts"),
		"voice_input", providers.STT != nil,
	)
	return a, nil
}

func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	if a.cfg.Catalog.Path == "" {
		a.catalog = catalog.Default()
		return nil
	}
	c, err := catalog.LoadFile(a.cfg.Catalog.Path)
	if err != nil {
		return err
	}
	slog.Info("loaded catalog", "path", a.cfg.Catalog.Path)
	a.catalog = c
	return nil
}

func (a *App) initPlayback() error {
	if a.players != nil {
		return nil
	}
	switch a.cfg.Playback.Mode {
	case config.PlaybackTimed:
		a.players = func() (playback.Player, error) { return playback.Timed{}, nil }
	case config.PlaybackWAV:
		w, err := playback.NewWAVWriter(a.cfg.Playback.OutputDir)
		if err != nil {
			return err
		}
		a.players = func() (playback.Player, error) { return w, nil }
	default:
		a.players = func() (playback.Player, error) { return playback.Discard{}, nil }
	}
	return nil
}

func (a *App) initPipeline() {
	copts := []conversation.Option{
		conversation.WithProviderName(nameOr(a.providers.LLMName, "llm")),
		conversation.WithMetrics(a.metrics),
	}
	if t := a.cfg.Session.Temperature; t != nil {
		copts = append(copts, conversation.WithTemperature(*t))
	}
	if n := a.cfg.Session.MaxTokens; n > 0 {
		copts = append(copts, conversation.WithMaxTokens(n))
	}
	a.responder = conversation.New(a.providers.LLM, copts...)

	a.speech = speech.New(a.providers.TTS,
		speech.WithProviderName(nameOr(a.providers.TTSName, "tts")),
		speech.WithMetrics(a.metrics),
	)
}

// Catalog returns the shared catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Metrics returns the metrics sink shared by every session.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ApplyConfig applies the hot-reloadable parts of a changed config. New
// sessions use the new defaults; open sessions keep theirs.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	if d.SessionChanged {
		a.sessions.setDefaults(cfg.Session)
		slog.Info("session defaults updated",
			"default_persona", cfg.Session.DefaultPersona,
			"default_mode", cfg.Session.DefaultMode,
		)
	}
	if d.RestartRequired() {
		slog.Warn("configuration change needs a restart to take effect",
			"providers", d.ProvidersChanged,
			"catalog", d.CatalogChanged,
			"playback", d.PlaybackChanged,
			"resilience", d.ResilienceChanged,
			"server", d.ServerChanged,
		)
	}
}

// Shutdown closes every session and runs the closers in order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser registers fn to run during Shutdown after the sessions are
// closed.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
