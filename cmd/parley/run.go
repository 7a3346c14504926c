package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/entrypoint"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/worker"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/room"
	"github.com/MrWong99/parley/pkg/room/discord"
	"github.com/MrWong99/parley/pkg/room/livekit"
)

// runtime is everything a job needs, built once per process.
type runtime struct {
	telemetry *observe.Telemetry
	detector  *vad.Loader
	orch      *entrypoint.Orchestrator
	connector room.Connector
	closeConn func() error
}

// newRuntime validates cfg and builds the shared pieces. No network
// connection is made and the VAD model is not loaded.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:       "parley",
		ServiceVersion:    version,
		RuntimeCollectors: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt := &runtime{telemetry: tel}

	rt.detector, err = entrypoint.DetectorLoader(cfg.Providers.VAD, tel.Metrics)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.orch, err = entrypoint.New(cfg, rt.detector, entrypoint.WithMetrics(tel.Metrics))
	if err != nil {
		rt.close()
		return nil, err
	}
	if _, _, err := rt.orch.Check(); err != nil {
		rt.close()
		return nil, err
	}
	rt.connector, rt.closeConn, err = newConnector(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.closeConn != nil {
		if err := rt.closeConn(); err != nil {
			slog.Warn("parley: close room connector", "err", err)
		}
	}
	if rt.detector != nil {
		if err := rt.detector.Close(); err != nil {
			slog.Warn("parley: close vad", "err", err)
		}
	}
	if rt.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		slog.Warn("parley: telemetry shutdown", "err", err)
	}
}

// newConnector returns the room transport selected by cfg.Room.Kind.
func newConnector(cfg *config.Config) (room.Connector, func() error, error) {
	switch cfg.Room.Kind {
	case config.RoomLiveKit:
		c, err := livekit.New(livekit.Config{
			URL:       cfg.Room.URL,
			APIKey:    cfg.Room.APIKey,
			APISecret: cfg.Room.APISecret,
			Identity:  cfg.Agent.Identity,
		})
		if err != nil {
			return nil, nil, &entrypoint.ConfigurationError{Field: "room", Err: err}
		}
		return c, func() error { return nil }, nil
	case config.RoomDiscord:
		c, err := discord.Open(cfg.Room.Token, cfg.Room.GuildID)
		if err != nil {
			return nil, nil, &entrypoint.ConnectionError{Room: "discord gateway", Err: err}
		}
		return c, c.Close, nil
	default:
		return nil, nil, &entrypoint.ConfigurationError{Field: "room.kind", Err: fmt.Errorf("unsupported kind %q", cfg.Room.Kind)}
	}
}

// prewarm loads the VAD model in the background so the first job does not
// pay for it. The loader keeps the outcome, so a failure here fails every
// job until the process restarts.
func (rt *runtime) prewarm(ctx context.Context) {
	go func() {
		if _, err := rt.detector.Load(ctx); err != nil {
			slog.Warn("parley: vad prewarm failed", "err", err)
		}
	}()
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	rt.prewarm(ctx)

	pool := worker.New(rt.orch, rt.connector,
		worker.WithMaxJobs(cfg.Worker.MaxJobs),
		worker.WithMetrics(rt.telemetry.Metrics),
	)
	srv := worker.NewServer(worker.ServerConfig{
		Pool:           pool,
		Health:         health.New(health.Flag("vad", rt.detector.Loaded)),
		Metrics:        rt.telemetry.Metrics,
		MetricsHandler: rt.telemetry.Handler(),
		DrainTimeout:   time.Duration(cfg.Worker.DrainTimeoutSeconds) * time.Second,
	})

	printSummary(slog.Default(), cfg)
	return srv.ListenAndServe(ctx, cfg.Server.ListenAddr)
}

func runConnect(ctx context.Context, cfg *config.Config, roomName string) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	pool := worker.New(rt.orch, rt.connector, worker.WithMetrics(rt.telemetry.Metrics))
	return pool.Run(ctx, roomName)
}

func runCheck(w io.Writer, cfg *config.Config) error {
	orch, err := entrypoint.New(cfg, vad.Static(nil))
	if err != nil {
		return err
	}
	desc, ag, err := orch.Check()
	if err != nil {
		return err
	}
	var caps []string
	for _, c := range ag.Capabilities() {
		caps = append(caps, string(c.Kind))
	}
	if len(caps) == 0 {
		caps = append(caps, "none")
	}
	fmt.Fprintf(w, "room     %s\n", cfg.Room.Kind)
	fmt.Fprintf(w, "stt      %s %s\n", desc.STT.Kind, desc.STT.Model)
	fmt.Fprintf(w, "llm      %s %s (%s)\n", desc.LLM.Kind, desc.LLM.Model, desc.LLM.BaseURL)
	fmt.Fprintf(w, "tts      %s %s\n", desc.TTS.Kind, desc.TTS.Model)
	fmt.Fprintf(w, "vad      %s %s\n", desc.VAD.Kind, desc.VAD.Model)
	fmt.Fprintf(w, "identity %s\n", cfg.Agent.Identity)
	fmt.Fprintf(w, "tools    %s\n", strings.Join(caps, ", "))
	return nil
}

// printSummary logs a startup summary of the configured providers.
func printSummary(log *slog.Logger, cfg *config.Config) {
	p := cfg.Providers
	log.Info("parley: worker starting",
		"listen", cfg.Server.ListenAddr,
		"room", cfg.Room.Kind,
		"max_jobs", cfg.Worker.MaxJobs,
		"stt", string(p.STT.Kind)+"/"+p.STT.Model,
		"llm", string(p.LLM.Kind)+"/"+p.LLM.Model,
		"tts", string(p.TTS.Kind)+"/"+p.TTS.Model,
		"vad", string(p.VAD.Kind),
		"tools", len(cfg.Agent.Capabilities),
	)
}
