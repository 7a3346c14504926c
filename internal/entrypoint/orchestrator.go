// Package entrypoint handles one job: it validates the configured providers,
// joins the job's room, builds the agent and its session, and runs the
// session until the call ends.
//
// The VAD engine is a process-scoped handle. It is injected as a
// [vad.Loader] so that concurrent jobs share a single load.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/agent"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/providers"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/room"
)

// JobContext is one inbound job. The orchestrator only consumes it.
type JobContext interface {
	// ID identifies the job in logs and metrics.
	ID() string

	// RoomName is the room the job is for.
	RoomName() string

	// Connect joins the room. It is called at most once per job.
	Connect(ctx context.Context) (room.Room, error)
}

// Session is the runtime a job hands its room to. Start blocks until the
// call ends.
type Session interface {
	Start(ctx context.Context, ag agent.Descriptor, rm room.Room) error
}

// SessionBuilder constructs the session for one job from its descriptor and
// the shared VAD engine. release frees adapter resources once the call has
// ended and may be nil.
type SessionBuilder func(ctx context.Context, desc SessionDescriptor, detector vad.Engine) (s Session, release func() error, err error)

// Adapters constructs the speech and language adapters for a descriptor.
type Adapters func(desc SessionDescriptor) (stt.Provider, llm.Provider, tts.Provider, error)

// ProviderAdapters constructs the adapters named by desc. A failure is a
// *ProviderError; adapters built before the failure are closed.
func ProviderAdapters(desc SessionDescriptor) (stt.Provider, llm.Provider, tts.Provider, error) {
	kinds := desc.Kinds()
	construct := func(m config.Modality, err error) error {
		return &ProviderError{Modality: m, Kind: kinds.Of(m), Op: "construct", Err: err}
	}

	s, err := providers.STT(desc.STT)
	if err != nil {
		return nil, nil, nil, construct(config.ModalitySTT, err)
	}
	l, err := providers.LLM(desc.LLM)
	if err != nil {
		return nil, nil, nil, errors.Join(construct(config.ModalityLLM, err), providers.Close(s))
	}
	t, err := providers.TTS(desc.TTS)
	if err != nil {
		return nil, nil, nil, errors.Join(construct(config.ModalityTTS, err), providers.Close(s, l))
	}
	return s, l, t, nil
}

// RuntimeBuilder returns a SessionBuilder that runs the adapters built by
// newAdapters on a [session.Runtime]. The voice and recognition language
// come from the descriptor; opts are applied after them.
func RuntimeBuilder(newAdapters Adapters, opts ...session.Option) SessionBuilder {
	return func(_ context.Context, desc SessionDescriptor, detector vad.Engine) (Session, func() error, error) {
		s, l, t, err := newAdapters(desc)
		if err != nil {
			return nil, nil, err
		}
		all := append([]session.Option{
			session.WithVoice(providers.Voice(desc.TTS)),
			session.WithLanguage(desc.STT.String(providers.OptLanguage)),
		}, opts...)
		rt, err := session.New(session.Providers{
			STT:   s,
			LLM:   l,
			TTS:   t,
			VAD:   detector,
			Kinds: desc.Kinds(),
		}, all...)
		if err != nil {
			return nil, nil, errors.Join(err, providers.Close(s, l, t))
		}
		return rt, func() error { return providers.Close(s, l, t) }, nil
	}
}

// DetectorLoader returns the process-wide loader for the detector selected
// by cfg. Nothing is loaded until the first Load.
func DetectorLoader(cfg config.ProviderConfig[config.VADKind], m *observe.Metrics) (*vad.Loader, error) {
	load, err := providers.VADLoad(cfg)
	if err != nil {
		return nil, &ConfigurationError{Modality: config.ModalityVAD, Field: "kind", Err: err}
	}
	return vad.NewLoader(func(ctx context.Context) (vad.Engine, error) {
		start := time.Now()
		e, err := load(ctx)
		if m != nil {
			observe.Since(ctx, m.VADLoadDuration, start, observe.Attr("kind", string(cfg.Kind)))
		}
		if err != nil {
			slog.Error("entrypoint: vad load failed", "kind", cfg.Kind, "model", cfg.Model, "err", err)
			return nil, err
		}
		slog.Info("entrypoint: vad loaded", "kind", cfg.Kind, "elapsed", time.Since(start))
		return e, nil
	}), nil
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSessionBuilder replaces the default builder, which constructs real
// provider adapters.
func WithSessionBuilder(b SessionBuilder) Option {
	return func(o *Orchestrator) { o.build = b }
}

// WithSessionOptions adds options to every session built by the default
// builder.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// WithMetrics records job metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator handles jobs. It is safe for concurrent use.
type Orchestrator struct {
	providers config.ProvidersConfig
	agent     config.AgentConfig
	detector  *vad.Loader

	build       SessionBuilder
	sessionOpts []session.Option
	metrics     *observe.Metrics
	log         *slog.Logger
}

// New returns an Orchestrator for cfg. detector is the shared VAD handle.
func New(cfg *config.Config, detector *vad.Loader, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("entrypoint: config is required")
	}
	if detector == nil {
		return nil, errors.New("entrypoint: vad loader is required")
	}
	o := &Orchestrator{
		providers: cfg.Providers,
		agent:     cfg.Agent,
		detector:  detector,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.build == nil {
		sopts := []session.Option{
			session.WithGreeting(cfg.Agent.Greeting),
			session.WithMaxHistoryTokens(cfg.Agent.MaxHistoryTokens),
			session.WithLogger(o.log),
		}
		if o.metrics != nil {
			sopts = append(sopts, session.WithMetrics(o.metrics))
		}
		o.build = RuntimeBuilder(ProviderAdapters, append(sopts, o.sessionOpts...)...)
	}
	return o, nil
}

// Check validates the provider and agent configuration without connecting.
func (o *Orchestrator) Check() (SessionDescriptor, agent.Descriptor, error) {
	desc, derr := NewSessionDescriptor(o.providers)
	ag, aerr := NewAgentDescriptor(o.agent)
	return desc, ag, errors.Join(derr, aerr)
}

// HandleJob runs job to completion. Configuration problems are reported as
// *ConfigurationError before the room is joined; a failed join is a
// *ConnectionError and is not retried; adapter failures are
// *ProviderError. The room is disconnected before HandleJob returns.
func (o *Orchestrator) HandleJob(ctx context.Context, job JobContext) (err error) {
	ctx, span := observe.StartSpan(ctx, "entrypoint.job", trace.WithAttributes(
		attribute.String("job.id", job.ID()),
		attribute.String("room", job.RoomName()),
	))
	log := observe.Logger(ctx, o.log).With("job_id", job.ID(), "room", job.RoomName())
	if o.metrics != nil {
		o.metrics.ActiveJobs.Add(ctx, 1)
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.ActiveJobs.Add(ctx, -1)
			o.metrics.RecordJob(ctx, Outcome(err))
		}
		observe.EndSpan(span, err)
		if err != nil {
			log.Error("entrypoint: job failed", "err", err)
			return
		}
		log.Info("entrypoint: job finished")
	}()

	desc, ag, err := o.Check()
	if err != nil {
		return err
	}

	rm, err := job.Connect(ctx)
	if err != nil {
		return &ConnectionError{Room: job.RoomName(), Err: err}
	}
	log.Info("entrypoint: connected", "participants", len(rm.InputStreams()))
	defer func() {
		if derr := rm.Disconnect(); derr != nil {
			log.Warn("entrypoint: disconnect", "err", derr)
		}
	}()

	detector, err := o.detector.Load(ctx)
	if err != nil {
		return &ProviderError{Modality: config.ModalityVAD, Kind: string(desc.VAD.Kind), Op: "load", Err: err}
	}

	sess, release, err := o.build(ctx, desc, detector)
	if err != nil {
		return err
	}
	if release != nil {
		defer func() {
			if rerr := release(); rerr != nil {
				log.Warn("entrypoint: release providers", "err", rerr)
			}
		}()
	}

	log.Info("entrypoint: session starting",
		"stt", desc.STT.Kind, "llm", desc.LLM.Kind, "tts", desc.TTS.Kind, "vad", desc.VAD.Kind,
		"capabilities", len(ag.Capabilities()),
	)
	if err := sess.Start(ctx, ag, rm); err != nil {
		return fmt.Errorf("entrypoint: session: %w", err)
	}
	return nil
}

// Outcome classifies a HandleJob result for the job counter.
func Outcome(err error) string {
	var (
		cfgErr  *ConfigurationError
		connErr *ConnectionError
		provErr *ProviderError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &connErr):
		return "connect"
	case errors.As(err, &provErr):
		return "provider"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error"
}
