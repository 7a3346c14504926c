package entrypoint_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/agent"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/entrypoint"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/provider/vad"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
	"github.com/MrWong99/parley/pkg/room"
	roommock "github.com/MrWong99/parley/pkg/room/mock"
)

const persona = "You are Parley.\nKeep answers short; this is a phone call."

// eventLog records the order of job and session calls.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

type fakeJob struct {
	room *roommock.Room
	err  error
	log  *eventLog

	connects atomic.Int32
}

func newJob(log *eventLog) *fakeJob {
	return &fakeJob{room: roommock.NewRoom("lobby"), log: log}
}

func (j *fakeJob) ID() string       { return "job-1" }
func (j *fakeJob) RoomName() string { return "lobby" }

func (j *fakeJob) Connect(context.Context) (room.Room, error) {
	j.connects.Add(1)
	j.log.add("connect")
	if j.err != nil {
		return nil, j.err
	}
	return j.room, nil
}

type fakeSession struct {
	log *eventLog
	err error

	mu     sync.Mutex
	agents []agent.Descriptor
	rooms  []room.Room
}

func (s *fakeSession) Start(_ context.Context, ag agent.Descriptor, rm room.Room) error {
	s.mu.Lock()
	s.agents = append(s.agents, ag)
	s.rooms = append(s.rooms, rm)
	s.mu.Unlock()
	s.log.add("start")
	return s.err
}

func (s *fakeSession) starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

type fakeBuilder struct {
	sess     *fakeSession
	err      error
	builds   atomic.Int32
	releases atomic.Int32
}

func (b *fakeBuilder) build(context.Context, entrypoint.SessionDescriptor, vad.Engine) (entrypoint.Session, func() error, error) {
	b.builds.Add(1)
	if b.err != nil {
		return nil, nil, b.err
	}
	return b.sess, func() error { b.releases.Add(1); return nil }, nil
}

// testConfig is the built-in configuration with the credentials it leaves
// to the environment filled in.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers.STT.APIKey = "dg-key"
	cfg.Providers.TTS.APIKey = "ca-key"
	cfg.Agent.Instructions = persona
	return cfg
}

// countingLoader returns a VAD loader whose load function counts its calls.
func countingLoader(loads *atomic.Int32) *vad.Loader {
	return vad.NewLoader(func(context.Context) (vad.Engine, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &vadmock.Engine{}, nil
	})
}

func newOrchestrator(t *testing.T, cfg *config.Config, loader *vad.Loader, b *fakeBuilder) *entrypoint.Orchestrator {
	t.Helper()
	o, err := entrypoint.New(cfg, loader, entrypoint.WithSessionBuilder(b.build))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestHandleJob_EmptyCapabilitiesExposeNoTools(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, testConfig(), vad.Static(&vadmock.Engine{}), b)

	if err := o.HandleJob(context.Background(), newJob(log)); err != nil {
		t.Fatalf("HandleJob: %v", err)
	}
	ag := b.sess.agents[0]
	if ag.HasCapabilities() || len(ag.Capabilities()) != 0 {
		t.Errorf("Capabilities = %v, want none", ag.Capabilities())
	}
	if tools := ag.Tools(); tools != nil {
		t.Errorf("Tools() = %v, want nil", tools)
	}
}

func TestHandleJob_ConfiguredCapabilities(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	cfg := testConfig()
	cfg.Agent.Capabilities = []string{"current_time", "calculate"}
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, cfg, vad.Static(&vadmock.Engine{}), b)

	if err := o.HandleJob(context.Background(), newJob(log)); err != nil {
		t.Fatalf("HandleJob: %v", err)
	}
	tools := b.sess.agents[0].Tools()
	if len(tools) != 2 || tools[0].Name != "current_time" || tools[1].Name != "calculate" {
		t.Errorf("Tools = %+v, want current_time, calculate", tools)
	}
}

func TestNewSessionDescriptor_Literals(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	desc, err := entrypoint.NewSessionDescriptor(cfg.Providers)
	if err != nil {
		t.Fatalf("NewSessionDescriptor: %v", err)
	}

	if desc.STT.Kind != config.STTDeepgram || desc.STT.Model != "nova-2" || desc.STT.String("language") != "en" {
		t.Errorf("STT = %+v", desc.STT)
	}
	if desc.LLM.Kind != config.LLMOpenAI || desc.LLM.Model != "deepseek-r1:1.5b" ||
		desc.LLM.BaseURL != "http://localhost:11434/v1" || desc.LLM.APIKey != "ollama" {
		t.Errorf("LLM = %+v", desc.LLM)
	}
	if temp, ok := desc.LLM.Float("temperature"); !ok || temp != 0.7 {
		t.Errorf("temperature = %v (ok=%v), want 0.7", temp, ok)
	}
	if desc.TTS.Kind != config.TTSCartesia || desc.TTS.Model != "sonic-english" ||
		desc.TTS.String("voice_id") != "f786b574-daa5-4673-aa0c-cbe3e8534c02" {
		t.Errorf("TTS = %+v", desc.TTS)
	}
	if desc.VAD.Kind != config.VADSilero || desc.VAD.Model != config.DefaultVADModel {
		t.Errorf("VAD = %+v", desc.VAD)
	}

	// Options nobody configured stay absent.
	if _, ok := desc.TTS.Options["language"]; ok {
		t.Error("TTS language was substituted")
	}
	if len(desc.STT.Options) != 1 || len(desc.LLM.Options) != 1 {
		t.Errorf("extra options: stt=%v llm=%v", desc.STT.Options, desc.LLM.Options)
	}

	again, _ := entrypoint.NewSessionDescriptor(cfg.Providers)
	if again.LLM.BaseURL != desc.LLM.BaseURL || again.TTS.String("voice_id") != desc.TTS.String("voice_id") {
		t.Error("descriptor construction is not deterministic")
	}

	cfg.Providers.STT.Options["language"] = "de"
	if desc.STT.String("language") != "en" {
		t.Error("descriptor shares option maps with the configuration")
	}
}

func TestHandleJob_MissingLLMBaseURL(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	cfg := testConfig()
	cfg.Providers.LLM.BaseURL = ""
	var loads atomic.Int32
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, cfg, countingLoader(&loads), b)
	job := newJob(log)

	err := o.HandleJob(context.Background(), job)
	var ce *entrypoint.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("HandleJob = %v, want *ConfigurationError", err)
	}
	if ce.Modality != config.ModalityLLM || ce.Field != "base_url" || !errors.Is(err, config.ErrMissing) {
		t.Errorf("ConfigurationError = %+v", ce)
	}
	if n := job.connects.Load(); n != 0 {
		t.Errorf("Connect calls = %d, want 0", n)
	}
	if n := loads.Load(); n != 0 {
		t.Errorf("VAD loads = %d, want 0", n)
	}
	if b.builds.Load() != 0 || b.sess.starts() != 0 {
		t.Error("session built or started after a configuration error")
	}
}

func TestHandleJob_ConfigurationErrorsAreJoined(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	cfg := testConfig()
	cfg.Providers.STT.APIKey = ""
	cfg.Providers.TTS.Options = nil
	cfg.Agent.Capabilities = []string{"weather"}
	job := newJob(log)
	o := newOrchestrator(t, cfg, vad.Static(&vadmock.Engine{}), &fakeBuilder{sess: &fakeSession{log: log}})

	err := o.HandleJob(context.Background(), job)
	if err == nil {
		t.Fatal("HandleJob = nil, want configuration errors")
	}
	for _, want := range []string{"providers.stt.api_key", "providers.tts.options.voice_id", "agent.capabilities"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
	if !errors.Is(err, agent.ErrUnknownCapability) {
		t.Errorf("error %v should wrap ErrUnknownCapability", err)
	}
	if job.connects.Load() != 0 {
		t.Error("Connect called despite configuration errors")
	}
	if entrypoint.Outcome(err) != "config" {
		t.Errorf("Outcome = %q, want config", entrypoint.Outcome(err))
	}
}

func TestHandleJob_ConnectBeforeStart(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, testConfig(), vad.Static(&vadmock.Engine{}), b)
	job := newJob(log)

	if err := o.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("HandleJob: %v", err)
	}
	if got := log.list(); !slices.Equal(got, []string{"connect", "start"}) {
		t.Errorf("events = %v, want [connect start]", got)
	}
	if b.sess.rooms[0] != room.Room(job.room) {
		t.Error("Start received a different room than Connect returned")
	}
	if n := job.room.DisconnectCount(); n != 1 {
		t.Errorf("Disconnect calls = %d, want 1", n)
	}
	if n := b.releases.Load(); n != 1 {
		t.Errorf("release calls = %d, want 1", n)
	}
}

func TestHandleJob_ConnectFailure(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	var loads atomic.Int32
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, testConfig(), countingLoader(&loads), b)
	job := newJob(log)
	cause := errors.New("dial tcp: connection refused")
	job.err = cause

	err := o.HandleJob(context.Background(), job)
	var ce *entrypoint.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("HandleJob = %v, want *ConnectionError", err)
	}
	if ce.Room != "lobby" || !errors.Is(err, cause) {
		t.Errorf("ConnectionError = %+v", ce)
	}
	if n := job.connects.Load(); n != 1 {
		t.Errorf("Connect calls = %d, want exactly 1", n)
	}
	if b.sess.starts() != 0 || b.builds.Load() != 0 || loads.Load() != 0 {
		t.Error("work continued after a failed connect")
	}
	if entrypoint.Outcome(err) != "connect" {
		t.Errorf("Outcome = %q, want connect", entrypoint.Outcome(err))
	}
}

func TestHandleJob_VADLoadedOncePerProcess(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	var loads atomic.Int32
	loader := countingLoader(&loads)
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, testConfig(), loader, b)

	const jobs = 16
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- o.HandleJob(context.Background(), newJob(log))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("HandleJob: %v", err)
		}
	}
	if n := loads.Load(); n != 1 {
		t.Errorf("VAD loads = %d, want 1", n)
	}
	if n := loader.Loads(); n != 1 {
		t.Errorf("Loader.Loads() = %d, want 1", n)
	}
	if n := b.sess.starts(); n != jobs {
		t.Errorf("Start calls = %d, want %d", n, jobs)
	}
}

func TestHandleJob_VADLoadFailure(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	loader := vad.NewLoader(func(context.Context) (vad.Engine, error) {
		return nil, errors.New("onnx: model not found")
	})
	b := &fakeBuilder{sess: &fakeSession{log: log}}
	o := newOrchestrator(t, testConfig(), loader, b)
	job := newJob(log)

	err := o.HandleJob(context.Background(), job)
	var pe *entrypoint.ProviderError
	if !errors.As(err, &pe) || pe.Modality != config.ModalityVAD || pe.Op != "load" {
		t.Fatalf("HandleJob = %v, want vad load ProviderError", err)
	}
	if b.sess.starts() != 0 {
		t.Error("Start called without a detector")
	}
	if job.room.DisconnectCount() != 1 {
		t.Error("room not disconnected after failure")
	}
}

func TestHandleJob_BuildFailureDisconnects(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	buildErr := &entrypoint.ProviderError{Modality: config.ModalitySTT, Kind: "deepgram", Op: "construct", Err: errors.New("bad key")}
	b := &fakeBuilder{sess: &fakeSession{log: log}, err: buildErr}
	o := newOrchestrator(t, testConfig(), vad.Static(&vadmock.Engine{}), b)
	job := newJob(log)

	if err := o.HandleJob(context.Background(), job); !errors.Is(err, buildErr) {
		t.Fatalf("HandleJob = %v, want build error", err)
	}
	if job.room.DisconnectCount() != 1 {
		t.Error("room not disconnected after failure")
	}
	if b.sess.starts() != 0 {
		t.Error("Start called after a failed build")
	}
}

func TestHandleJob_StartErrorPropagates(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	startErr := &entrypoint.ProviderError{Modality: config.ModalityLLM, Kind: "openai", Err: errors.New("circuit open")}
	b := &fakeBuilder{sess: &fakeSession{log: log, err: startErr}}
	o := newOrchestrator(t, testConfig(), vad.Static(&vadmock.Engine{}), b)

	err := o.HandleJob(context.Background(), newJob(log))
	if !errors.Is(err, startErr) {
		t.Fatalf("HandleJob = %v, want start error", err)
	}
	if entrypoint.Outcome(err) != "provider" {
		t.Errorf("Outcome = %q, want provider", entrypoint.Outcome(err))
	}
}

func TestNew_RequiresLoader(t *testing.T) {
	t.Parallel()
	if _, err := entrypoint.New(testConfig(), nil); err == nil {
		t.Error("New accepted a nil loader")
	}
	if _, err := entrypoint.New(nil, vad.Static(&vadmock.Engine{})); err == nil {
		t.Error("New accepted a nil config")
	}
}

func TestProviderAdapters_ConstructError(t *testing.T) {
	t.Parallel()
	desc, err := entrypoint.NewSessionDescriptor(testConfig().Providers)
	if err != nil {
		t.Fatal(err)
	}
	desc.STT.APIKey = ""

	_, _, _, err = entrypoint.ProviderAdapters(desc)
	var pe *entrypoint.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("ProviderAdapters = %v, want *ProviderError", err)
	}
	if pe.Modality != config.ModalitySTT || pe.Kind != "deepgram" || pe.Op != "construct" {
		t.Errorf("ProviderError = %+v", pe)
	}
}

func TestProviderAdapters_Default(t *testing.T) {
	t.Parallel()
	desc, err := entrypoint.NewSessionDescriptor(testConfig().Providers)
	if err != nil {
		t.Fatal(err)
	}
	s, l, tt, err := entrypoint.ProviderAdapters(desc)
	if err != nil {
		t.Fatalf("ProviderAdapters: %v", err)
	}
	if s == nil || l == nil || tt == nil {
		t.Fatal("ProviderAdapters returned a nil adapter")
	}
}

// countingSession counts Start calls on a real session.
type countingSession struct {
	entrypoint.Session
	starts atomic.Int32
	agent  chan agent.Descriptor
}

func (c *countingSession) Start(ctx context.Context, ag agent.Descriptor, rm room.Room) error {
	c.starts.Add(1)
	c.agent <- ag
	return c.Session.Start(ctx, ag, rm)
}

func TestHandleJob_EndToEnd(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	job := newJob(log)
	input := job.room.AddParticipant("alice")

	finals := make(chan stt.Transcript, 1)
	finals <- stt.Transcript{Text: "hello there", IsFinal: true}
	sttP := &sttmock.Provider{StartStreamFunc: func(stt.StreamConfig) (stt.SessionHandle, error) {
		return &sttmock.Session{FinalsCh: finals}, nil
	}}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi! How can I help?"}}}
	ttsP := &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 640)}}
	detector := &vadmock.Engine{Session: &vadmock.Session{
		Script:      []vad.VADEvent{{Type: vad.VADSpeechStart}, {Type: vad.VADSpeechEnd}},
		EventResult: vad.VADEvent{Type: vad.VADSilence},
	}}

	runtime := entrypoint.RuntimeBuilder(func(entrypoint.SessionDescriptor) (stt.Provider, llm.Provider, tts.Provider, error) {
		return sttP, llmP, ttsP, nil
	}, session.WithGap(0))
	counting := &countingSession{agent: make(chan agent.Descriptor, 1)}
	builder := func(ctx context.Context, desc entrypoint.SessionDescriptor, e vad.Engine) (entrypoint.Session, func() error, error) {
		s, release, err := runtime(ctx, desc, e)
		counting.Session = s
		return counting, release, err
	}

	o, err := entrypoint.New(testConfig(), vad.Static(detector), entrypoint.WithSessionBuilder(builder))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- o.HandleJob(context.Background(), job) }()

	select {
	case ag := <-counting.agent:
		if ag.Instructions() != persona {
			t.Errorf("Instructions = %q, want persona verbatim", ag.Instructions())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session never started")
	}

	for range 2 {
		input <- audio.Frame{Data: make([]byte, 1024), SampleRate: 16000, Channels: 1}
	}
	select {
	case <-job.room.Output:
	case <-time.After(5 * time.Second):
		t.Fatal("no reply audio reached the room")
	}

	reqs := llmP.StreamRequests()
	if len(reqs) != 1 || reqs[0].SystemPrompt != persona {
		t.Fatalf("LLM requests = %+v, want one with the persona as system prompt", reqs)
	}
	if len(reqs[0].Tools) != 0 {
		t.Errorf("Tools = %v, want none", reqs[0].Tools)
	}
	if calls := sttP.Calls(); len(calls) != 1 || calls[0].Cfg.Language != "en" {
		t.Errorf("StartStream calls = %+v, want one with language en", calls)
	}
	if texts := ttsP.Texts(); len(texts) != 1 || texts[0] != "Hi! How can I help?" {
		t.Errorf("TTS texts = %q", texts)
	}
	if calls := ttsP.SynthesizeStreamCalls; len(calls) != 1 || calls[0].Voice.ID != config.DefaultTTSVoiceID {
		t.Errorf("voice = %+v, want the configured voice id", calls)
	}

	job.room.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("HandleJob = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("HandleJob did not return after the room closed")
	}
	if n := counting.starts.Load(); n != 1 {
		t.Errorf("Start calls = %d, want 1", n)
	}
	if n := job.connects.Load(); n != 1 {
		t.Errorf("Connect calls = %d, want 1", n)
	}
}
