// Package session is the conversational runtime a job hands its room to.
//
// A [Runtime] binds one provider per modality. [Runtime.Start] runs a call:
// every participant's audio is converted to 16 kHz mono, gated by voice
// activity detection and streamed to speech recognition; final transcripts
// become user turns in a shared linear [History]; each turn is answered by
// the [engine.Engine], whose synthesized speech is played into the room
// through a [mixer.Mixer]. A participant starting to speak interrupts the
// reply in flight.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/agent"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mixer"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/room"
)

const (
	// The greeting outranks ordinary replies in the mixer.
	priorityReply    = 0
	priorityGreeting = 1

	defaultPrerollFrames = 10
	defaultTurnBuffer    = 8
)

// DefaultVADConfig is the detector configuration used unless overridden.
// 32 ms windows at 16 kHz are what Silero expects.
var DefaultVADConfig = vad.Config{
	SampleRate:       16000,
	FrameSizeMs:      32,
	SpeechThreshold:  0.5,
	SilenceThreshold: 0.35,
}

// Kinds names the configured provider of each modality. It labels errors,
// logs and metrics.
type Kinds struct {
	STT string
	LLM string
	TTS string
	VAD string
}

// Of returns the kind configured for m.
func (k Kinds) Of(m config.Modality) string {
	switch m {
	case config.ModalitySTT:
		return k.STT
	case config.ModalityLLM:
		return k.LLM
	case config.ModalityTTS:
		return k.TTS
	case config.ModalityVAD:
		return k.VAD
	}
	return ""
}

// Providers is the set of adapters a session runs on.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine

	Kinds Kinds
}

// Option configures a [Runtime].
type Option func(*Runtime)

// WithVoice sets the synthesis voice.
func WithVoice(v tts.VoiceProfile) Option {
	return func(r *Runtime) { r.voice = v }
}

// WithLanguage sets the recognition language passed to every STT stream.
func WithLanguage(lang string) Option {
	return func(r *Runtime) { r.language = lang }
}

// WithGreeting makes the assistant speak text once when a call starts.
func WithGreeting(text string) Option {
	return func(r *Runtime) { r.greeting = text }
}

// WithMaxHistoryTokens bounds the chat history. Zero means unbounded.
func WithMaxHistoryTokens(n int) Option {
	return func(r *Runtime) { r.maxHistoryTokens = n }
}

// WithVADConfig overrides [DefaultVADConfig].
func WithVADConfig(cfg vad.Config) Option {
	return func(r *Runtime) { r.vadCfg = cfg }
}

// WithPreroll sets how many detector frames of audio preceding the speech
// onset are forwarded to recognition.
func WithPreroll(frames int) Option {
	return func(r *Runtime) { r.prerollFrames = frames }
}

// WithGap sets the silence between consecutive utterances.
func WithGap(d time.Duration) Option {
	return func(r *Runtime) { r.gap = d }
}

// WithMaxToolRounds bounds capability calls per reply.
func WithMaxToolRounds(n int) Option {
	return func(r *Runtime) { r.maxToolRounds = n }
}

// WithBreakerConfig tunes the per-provider circuit breakers.
func WithBreakerConfig(maxFailures int, resetTimeout time.Duration) Option {
	return func(r *Runtime) {
		r.breakerFailures = maxFailures
		r.breakerReset = resetTimeout
	}
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// Runtime runs calls on a fixed set of providers.
type Runtime struct {
	providers Providers

	voice            tts.VoiceProfile
	language         string
	greeting         string
	maxHistoryTokens int
	vadCfg           vad.Config
	prerollFrames    int
	gap              time.Duration
	maxToolRounds    int
	breakerFailures  int
	breakerReset     time.Duration

	sttBreaker *resilience.CircuitBreaker
	llmBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker

	metrics *observe.Metrics
	log     *slog.Logger
}

// New returns a Runtime. All four providers are required.
func New(p Providers, opts ...Option) (*Runtime, error) {
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("session: stt provider is required"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("session: llm provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("session: tts provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("session: vad engine is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	r := &Runtime{
		providers:     p,
		vadCfg:        DefaultVADConfig,
		prerollFrames: defaultPrerollFrames,
		gap:           mixer.DefaultGap,
		maxToolRounds: 3,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	breaker := func(m config.Modality) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         string(m) + ":" + p.Kinds.Of(m),
			MaxFailures:  r.breakerFailures,
			ResetTimeout: r.breakerReset,
			OnStateChange: func(name string, from, to resilience.State) {
				r.log.Info("session: provider breaker", "name", name, "from", from, "to", to)
			},
		})
	}
	r.sttBreaker = breaker(config.ModalitySTT)
	r.llmBreaker = breaker(config.ModalityLLM)
	r.ttsBreaker = breaker(config.ModalityTTS)
	return r, nil
}

// Start runs a call in rm for ag until the room ends or ctx is cancelled.
// It returns nil when the call ends normally and a *ProviderError when a
// provider failed in a way that made the call impossible to continue.
// Start does not disconnect rm.
func (r *Runtime) Start(ctx context.Context, ag agent.Descriptor, rm room.Room) error {
	ctx, span := observe.StartSpan(ctx, "session.call")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := r.newCall(ctx, cancel, ag, rm)
	c.log.Info("session: call started", "capabilities", len(ag.Capabilities()))

	rm.OnParticipantChange(c.onParticipantChange)
	c.attachParticipants()

	c.wg.Add(1)
	go c.converse()

	select {
	case <-ctx.Done():
	case <-rm.Done():
	}
	cancel()
	rm.OnParticipantChange(func(room.Event) {})

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	c.mixer.Close()

	err := c.fatalErr()
	observe.EndSpan(span, err)
	if err != nil {
		c.log.Error("session: call aborted", "err", err)
		return err
	}
	c.log.Info("session: call ended")
	return nil
}

// call is the state of one Start invocation.
type call struct {
	rt      *Runtime
	agent   agent.Descriptor
	room    room.Room
	engine  *engine.Engine
	mixer   *mixer.Mixer
	history *History
	turns   chan turn
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	participants map[string]<-chan audio.Frame
	replyCancel  context.CancelFunc
	fatal        error
}

type turn struct {
	speaker string
	text    string
	endedAt time.Time
}

func (r *Runtime) newCall(ctx context.Context, cancel context.CancelFunc, ag agent.Descriptor, rm room.Room) *call {
	log := observe.Logger(ctx, r.log).With("room", rm.Name())

	opts := []engine.Option{
		engine.WithBreakers(r.llmBreaker, r.ttsBreaker),
		engine.WithMaxToolRounds(r.maxToolRounds),
		engine.WithLogger(log),
	}
	if ag.HasCapabilities() {
		opts = append(opts, engine.WithTools(ag.Tools(), ag.Execute))
	}
	if r.metrics != nil {
		opts = append(opts, engine.WithMetrics(r.metrics))
	}

	c := &call{
		rt:           r,
		agent:        ag,
		room:         rm,
		engine:       engine.New(r.providers.LLM, r.providers.TTS, r.voice, opts...),
		history:      NewHistory(r.maxHistoryTokens),
		turns:        make(chan turn, defaultTurnBuffer),
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		participants: make(map[string]<-chan audio.Frame),
	}

	out := rm.OutputStream()
	c.mixer = mixer.New(func(f audio.Frame) {
		select {
		case out <- f:
		case <-ctx.Done():
		case <-rm.Done():
		}
	}, mixer.WithGap(r.gap))
	return c
}

func (c *call) onParticipantChange(ev room.Event) {
	switch ev.Type {
	case room.EventJoin:
		c.log.Info("session: participant joined", "participant", ev.ParticipantID)
		c.attachParticipants()
	case room.EventLeave:
		c.log.Info("session: participant left", "participant", ev.ParticipantID)
	}
}

// attachParticipants starts a pipeline for every input stream that has
// none yet.
func (c *call) attachParticipants() {
	for id, in := range c.room.InputStreams() {
		c.mu.Lock()
		if c.closed || c.participants[id] == in {
			c.mu.Unlock()
			continue
		}
		c.participants[id] = in
		c.wg.Add(1)
		c.mu.Unlock()

		go c.runParticipant(id, in)
	}
}

func (c *call) detach(id string, in <-chan audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participants[id] == in {
		delete(c.participants, id)
	}
}

// submit queues a user turn for the conversation loop.
func (c *call) submit(t turn) {
	select {
	case c.turns <- t:
	case <-c.ctx.Done():
	}
}

// converse answers turns one at a time.
func (c *call) converse() {
	defer c.wg.Done()

	if g := c.rt.greeting; g != "" {
		c.greet(g)
	}
	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.turns:
			c.respond(t)
		}
	}
}

// greet speaks text without consulting the language model.
func (c *call) greet(text string) {
	rctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	c.setReply(cancel)
	defer c.setReply(nil)

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	p := c.rt.providers
	var stream *tts.Stream
	err := c.rt.ttsBreaker.Execute(func() error {
		var err error
		stream, err = p.TTS.SynthesizeStream(rctx, textCh, c.rt.voice)
		return err
	})
	if err != nil {
		c.report(&ProviderError{Modality: config.ModalityTTS, Kind: p.Kinds.TTS, Op: "greeting", Err: err})
		return
	}
	defer stream.Close()

	seg := mixer.NewSegment("", stream.Audio(), c.speechFormat(), priorityGreeting)
	c.mixer.Enqueue(seg)
	select {
	case <-seg.Done():
	case <-rctx.Done():
	}
	if err := stream.Err(); err != nil {
		c.report(&ProviderError{Modality: config.ModalityTTS, Kind: p.Kinds.TTS, Op: "greeting", Err: err})
		return
	}
	c.history.Add(llm.AssistantMessage(text, nil))
}

// respond answers one user turn.
func (c *call) respond(t turn) {
	log := c.log.With("participant", t.speaker)
	log.Debug("session: user turn", "text", t.text)
	c.history.Add(llm.UserMessage(t.text))

	ctx, span := observe.StartSpan(c.ctx, "session.reply")
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setReply(cancel)
	defer c.setReply(nil)

	reply, err := c.engine.Process(rctx, engine.Prompt{
		SystemPrompt: c.agent.Instructions(),
		Messages:     c.history.Messages(),
	})
	if err != nil {
		pe := c.rt.providers.Kinds.fromStage(err, "reply")
		c.report(pe)
		observe.EndSpan(span, pe)
		return
	}

	seg := mixer.NewSegment(t.speaker, c.firstAudio(rctx, reply.Audio(), t.endedAt), c.speechFormat(), priorityReply)
	c.mixer.Enqueue(seg)
	select {
	case <-seg.Done():
	case <-rctx.Done():
	}
	if reply.Err() != nil {
		// Synthesis died; stop the completion feeding it.
		cancel()
	}
	reply.Wait()
	reply.Stop()

	interrupted := rctx.Err() != nil && c.ctx.Err() == nil
	err = reply.Err()
	if interrupted && errors.Is(err, context.Canceled) {
		err = nil
	}
	switch {
	case err != nil:
		pe := c.rt.providers.Kinds.fromStage(err, "reply")
		c.report(pe)
		observe.EndSpan(span, pe)
	case interrupted:
		log.Debug("session: reply interrupted", "spoken", reply.Text())
		observe.EndSpan(span, nil)
	default:
		log.Debug("session: reply", "text", reply.Text())
		if c.rt.metrics != nil {
			c.rt.metrics.Replies.Add(c.ctx, 1)
		}
		observe.EndSpan(span, nil)
	}
	c.history.Add(reply.Messages()...)
}

// firstAudio relays pcm and records the turn latency when the first chunk
// arrives.
func (c *call) firstAudio(ctx context.Context, pcm <-chan []byte, since time.Time) <-chan []byte {
	if c.rt.metrics == nil || since.IsZero() {
		return pcm
	}
	out := make(chan []byte, cap(pcm))
	go func() {
		defer close(out)
		first := true
		for chunk := range pcm {
			if first {
				first = false
				observe.Since(ctx, c.rt.metrics.TurnDuration, since)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				audio.Drain(pcm)
				return
			}
		}
	}()
	return out
}

func (c *call) speechFormat() audio.Format {
	return audio.Format{SampleRate: c.rt.providers.TTS.SampleRate(), Channels: 1}
}

func (c *call) setReply(cancel context.CancelFunc) {
	c.mu.Lock()
	c.replyCancel = cancel
	c.mu.Unlock()
}

// bargeIn stops whatever the assistant is saying or preparing because
// speaker started to talk.
func (c *call) bargeIn(speaker string) {
	cut := c.mixer.BargeIn(speaker)

	c.mu.Lock()
	cancel := c.replyCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		cut = true
	}
	if !cut {
		return
	}
	c.log.Debug("session: barge-in", "participant", speaker)
	if c.rt.metrics != nil {
		c.rt.metrics.BargeIns.Add(c.ctx, 1)
	}
}

// report logs a provider failure and ends the call if it is fatal.
func (c *call) report(pe *ProviderError) {
	if c.ctx.Err() != nil && errors.Is(pe.Err, context.Canceled) {
		return
	}
	c.log.Warn("session: provider failure",
		"modality", pe.Modality,
		"kind", pe.Kind,
		"op", pe.Op,
		"err", pe.Err,
	)
	if c.rt.metrics != nil {
		c.rt.metrics.RecordProviderError(c.ctx, string(pe.Modality), pe.Kind)
	}
	if pe.Fatal() {
		c.mu.Lock()
		if c.fatal == nil {
			c.fatal = pe
		}
		c.mu.Unlock()
		c.cancel()
	}
}

func (c *call) fatalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}
