// Command flowtalk runs the FlowTalk English conversation tutor, either as an
// HTTP/WebSocket server or as an interactive terminal session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/flowtalk/internal/app"
	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/internal/console"
	"github.com/MrWong99/flowtalk/internal/health"
	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/internal/resilience"
	"github.com/MrWong99/flowtalk/internal/server"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional KEY=value file loaded before the config")
	forceConsole := flag.Bool("console", false, "run the terminal front-end even when server.listen_addr is set")
	watch := flag.Bool("watch", true, "reload session defaults and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnvFiles(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "flowtalk: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "flowtalk: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "flowtalk: %v\n", err)
		}
		return 1
	}
	config.ApplyEnv(cfg, os.LookupEnv)

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level, cfg.Server.LogFormat))

	slog.Info("flowtalk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, groups, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	application.AddCloser(func() error {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return telemetry.Shutdown(tctx)
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d, new)
		}, config.WithPrepare(func(c *config.Config) { config.ApplyEnv(c, os.LookupEnv) }))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			application.AddCloser(func() error { w.Stop(); return nil })
			go reloadOnHangup(ctx, w)
		}
	}

	// ── Front-end ─────────────────────────────────────────────────────────────
	var runErr error
	if cfg.Server.ListenAddr != "" && !*forceConsole {
		runErr = serve(ctx, cfg, application, groups, telemetry.Registry)
	} else {
		c := console.New(application.Sessions(), application.Catalog(), os.Stdin, os.Stdout)
		runErr = c.Run(ctx)
		stop()
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("config reload failed", "err", err)
				continue
			}
			slog.Info("config reload requested", "changed", changed)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, application *app.App, groups backendGroups, g prometheus.Gatherer) error {
	checkers := []health.Checker{
		health.CatalogCheck(application.Catalog()),
		health.BackendCheck("llm", groups.llm.States),
		health.BackendCheck("tts", groups.tts.States),
	}
	srv, err := server.New(server.Config{
		Sessions:       application.Sessions(),
		Catalog:        application.Catalog(),
		Checkers:       checkers,
		Metrics:        application.Metrics(),
		Gatherer:       g,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	slog.Info("server ready; press Ctrl+C to shut down")
	return srv.ListenAndServe(ctx, cfg.Server.ListenAddr, cfg.Server.TLS)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// backendGroups exposes the fallback chains to the readiness checks.
type backendGroups struct {
	llm *resilience.LLMFallback
	tts *resilience.TTSFallback
}

// buildProviders creates the primary and fallback backends named in cfg and
// puts each capability behind a circuit-breaking fallback chain.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, backendGroups, error) {
	pc := cfg.Providers
	if pc.LLM.Name == "" {
		return nil, backendGroups{}, errors.New("providers.llm is not configured")
	}
	if pc.TTS.Name == "" {
		return nil, backendGroups{}, errors.New("providers.tts is not configured")
	}

	bc := resilience.BreakerConfig{
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "backend", name, "from", from, "to", to)
		},
	}

	var llms []resilience.Backend[llm.Provider]
	for i, entry := range append([]config.ProviderEntry{pc.LLM}, pc.LLMFallbacks...) {
		p, err := reg.CreateLLM(ctx, entry)
		if err != nil {
			return nil, backendGroups{}, err
		}
		llms = append(llms, resilience.Backend[llm.Provider]{Name: backendName("llm", entry, i), Value: p})
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model, "fallback", i > 0)
	}

	var ttss []resilience.Backend[tts.Provider]
	for i, entry := range append([]config.ProviderEntry{pc.TTS}, pc.TTSFallbacks...) {
		p, err := reg.CreateTTS(ctx, entry)
		if err != nil {
			return nil, backendGroups{}, err
		}
		ttss = append(ttss, resilience.Backend[tts.Provider]{Name: backendName("tts", entry, i), Value: p})
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "model", entry.Model, "fallback", i > 0)
	}

	groups := backendGroups{
		llm: resilience.NewLLMFallback(bc, llms...),
		tts: resilience.NewTTSFallback(bc, ttss...),
	}
	ps := &app.Providers{
		LLM:     groups.llm,
		TTS:     groups.tts,
		LLMName: pc.LLM.Name,
		TTSName: pc.TTS.Name,
	}

	if pc.STT.Name != "" {
		p, err := reg.CreateSTT(ctx, pc.STT)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("voice input disabled", "err", err)
		case err != nil:
			return nil, backendGroups{}, err
		default:
			ps.STT = resilience.NewSTTFallback(bc, resilience.Backend[stt.Provider]{Name: backendName("stt", pc.STT, 0), Value: p})
			ps.STTName = pc.STT.Name
			slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)
		}
	}
	return ps, groups, nil
}

func backendName(kind string, e config.ProviderEntry, index int) string {
	name := kind + "/" + e.Name
	if index > 0 {
		name = fmt.Sprintf("%s#%d", name, index)
	}
	return name
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         FlowTalk, startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	fmt.Fprintf(os.Stderr, "║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d llm, %d tts", len(cfg.Providers.LLMFallbacks), len(cfg.Providers.TTSFallbacks)))
	fmt.Fprintf(os.Stderr, "║  Default mode    : %-19s ║\n", cfg.Session.Mode())
	fmt.Fprintf(os.Stderr, "║  Playback        : %-19s ║\n", cfg.Playback.Mode)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(os.Stderr, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	} else {
		fmt.Fprintf(os.Stderr, "║  Front-end       : %-19s ║\n", "console")
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
