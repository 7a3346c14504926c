package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/agent"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/provider/vad"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
	roommock "github.com/MrWong99/parley/pkg/room/mock"
)

const persona = "You are Parley, a concise voice assistant."

var (
	speechStart = vad.VADEvent{Type: vad.VADSpeechStart, Probability: 0.9}
	speechEnd   = vad.VADEvent{Type: vad.VADSpeechEnd, Probability: 0.1}
	silence     = vad.VADEvent{Type: vad.VADSilence}
)

type harness struct {
	room   *roommock.Room
	stt    *sttmock.Provider
	llm    llm.Provider
	tts    *ttsmock.Provider
	vad    *vadmock.Engine
	finals chan stt.Transcript
	input  chan<- audio.Frame
}

// newHarness wires mocks for one participant "alice" whose detector emits
// script and whose recognizer delivers finals.
func newHarness(l llm.Provider, script []vad.VADEvent, finals ...string) *harness {
	h := &harness{
		room:   roommock.NewRoom("lobby"),
		llm:    l,
		tts:    &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 640)}},
		finals: make(chan stt.Transcript, len(finals)+1),
	}
	for _, f := range finals {
		h.finals <- stt.Transcript{Text: f, IsFinal: true}
	}
	h.stt = &sttmock.Provider{StartStreamFunc: func(stt.StreamConfig) (stt.SessionHandle, error) {
		return &sttmock.Session{FinalsCh: h.finals}, nil
	}}
	h.vad = &vadmock.Engine{Session: &vadmock.Session{Script: script, EventResult: silence}}
	h.input = h.room.AddParticipant("alice")
	return h
}

func (h *harness) runtime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithGap(0), WithLanguage("en")}, opts...)
	rt, err := New(Providers{
		STT:   h.stt,
		LLM:   h.llm,
		TTS:   h.tts,
		VAD:   h.vad,
		Kinds: Kinds{STT: "deepgram", LLM: "openai", TTS: "cartesia", VAD: "silero"},
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func (h *harness) start(t *testing.T, rt *Runtime, ag agent.Descriptor) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background(), ag, h.room) }()
	return done
}

// speak sends n detector windows of silence-valued PCM.
func (h *harness) speak(n int) {
	for range n {
		h.input <- audio.Frame{Data: make([]byte, 1024), SampleRate: 16000, Channels: 1}
	}
}

func waitOutput(t *testing.T, h *harness) audio.Frame {
	t.Helper()
	select {
	case f := <-h.room.Output:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no audio reached the room")
	}
	return audio.Frame{}
}

func waitStart(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustAgent(t *testing.T, kinds ...agent.CapabilityKind) agent.Descriptor {
	t.Helper()
	ag, err := agent.New(persona, kinds)
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return ag
}

func TestStart_AnswersTurn(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "It is noon."}}}
	h := newHarness(l, []vad.VADEvent{speechStart, speechEnd}, "what time is it")
	done := h.start(t, h.runtime(t), mustAgent(t))

	h.speak(2)
	f := waitOutput(t, h)
	if f.SampleRate != 16000 || f.Channels != 1 || len(f.Data) != 640 {
		t.Errorf("output frame = %v, %d bytes", f.Format(), len(f.Data))
	}

	reqs := l.StreamRequests()
	if len(reqs) != 1 {
		t.Fatalf("StreamCompletion calls = %d, want 1", len(reqs))
	}
	if reqs[0].SystemPrompt != persona {
		t.Errorf("SystemPrompt = %q, want persona verbatim", reqs[0].SystemPrompt)
	}
	if len(reqs[0].Tools) != 0 {
		t.Errorf("Tools = %v, want none for an agent without capabilities", reqs[0].Tools)
	}
	msgs := reqs[0].Messages
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser || msgs[0].Content != "what time is it" {
		t.Errorf("Messages = %+v", msgs)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "It is noon." {
		t.Errorf("TTS texts = %q", texts)
	}

	calls := h.stt.Calls()
	if len(calls) != 1 {
		t.Fatalf("StartStream calls = %d, want 1", len(calls))
	}
	if cfg := calls[0].Cfg; cfg.SampleRate != 16000 || cfg.Channels != 1 || cfg.Language != "en" {
		t.Errorf("StreamConfig = %+v", cfg)
	}

	h.room.Close()
	if err := waitStart(t, done); err != nil {
		t.Errorf("Start = %v, want nil", err)
	}
}

func TestStart_CapabilitiesOfferTools(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Sure."}}}
	h := newHarness(l, []vad.VADEvent{speechStart, speechEnd}, "hi")
	done := h.start(t, h.runtime(t), mustAgent(t, agent.CapabilityCurrentTime))

	h.speak(2)
	waitOutput(t, h)

	reqs := l.StreamRequests()
	if len(reqs) == 0 || len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Name != "current_time" {
		t.Errorf("requests = %+v, want the current_time tool offered", reqs)
	}
	h.room.Close()
	waitStart(t, done)
}

func TestStart_Greeting(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{}
	h := newHarness(l, nil)
	done := h.start(t, h.runtime(t, WithGreeting("Hello, how can I help?")), mustAgent(t))

	waitOutput(t, h)
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "Hello, how can I help?" {
		t.Errorf("TTS texts = %q", texts)
	}
	if n := l.StreamCallCount(); n != 0 {
		t.Errorf("greeting consulted the language model %d times", n)
	}
	h.room.Close()
	waitStart(t, done)
}

// blockingLLM never finishes a completion; it records each request context.
type blockingLLM struct {
	llmmock.Provider

	mu   sync.Mutex
	ctxs []context.Context
}

func (b *blockingLLM) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	b.mu.Lock()
	b.ctxs = append(b.ctxs, ctx)
	b.mu.Unlock()
	ch := make(chan llm.Chunk)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *blockingLLM) calls() []context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]context.Context(nil), b.ctxs...)
}

func TestStart_BargeInCancelsReply(t *testing.T) {
	t.Parallel()
	l := &blockingLLM{}
	h := newHarness(l, []vad.VADEvent{speechStart, speechEnd, speechStart}, "tell me a long story")
	done := h.start(t, h.runtime(t), mustAgent(t))

	h.speak(2)
	waitFor(t, "the reply to start", func() bool { return len(l.calls()) == 1 })

	h.speak(1)
	ctx := l.calls()[0]
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reply was not cancelled by user speech")
	}

	h.room.Close()
	if err := waitStart(t, done); err != nil {
		t.Errorf("Start = %v, want nil", err)
	}
}

func TestStart_OpenBreakerEndsCall(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamErr: errors.New("connection refused")}
	h := newHarness(l, []vad.VADEvent{speechStart, speechEnd}, "first", "second")
	rt := h.runtime(t, WithBreakerConfig(1, time.Hour))
	done := h.start(t, rt, mustAgent(t))

	h.speak(2)
	err := waitStart(t, done)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Start = %v, want *ProviderError", err)
	}
	if pe.Modality != config.ModalityLLM || pe.Kind != "openai" || !pe.Fatal() {
		t.Errorf("ProviderError = %+v", pe)
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("error %v does not wrap ErrCircuitOpen", err)
	}
	if n := l.StreamCallCount(); n != 1 {
		t.Errorf("StreamCompletion calls = %d, want 1", n)
	}
}

func TestStart_VADFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(&llmmock.Provider{}, nil)
	h.vad.NewSessionErr = errors.New("model not loaded")
	done := h.start(t, h.runtime(t), mustAgent(t))

	h.speak(3)
	waitFor(t, "the detector to be requested", func() bool { return h.vad.CallCount() == 1 })
	h.room.Close()
	if err := waitStart(t, done); err != nil {
		t.Errorf("Start = %v, want nil", err)
	}
	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("StartStream calls = %d, want 0", n)
	}
}

func TestStart_ContextCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(&llmmock.Provider{}, nil)
	rt := h.runtime(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx, mustAgent(t), h.room) }()

	cancel()
	if err := waitStart(t, done); err != nil {
		t.Errorf("Start = %v, want nil", err)
	}
	if h.room.DisconnectCount() != 0 {
		t.Error("Start disconnected the room; that is the caller's job")
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := New(Providers{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"stt", "llm", "tts", "vad"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestProviderError(t *testing.T) {
	t.Parallel()
	cause := errors.New("401 unauthorized")
	pe := &ProviderError{Modality: config.ModalityTTS, Kind: "cartesia", Op: "synthesize", Err: cause}
	if got, want := pe.Error(), "tts provider cartesia: synthesize: 401 unauthorized"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(pe, cause) {
		t.Error("ProviderError does not unwrap to its cause")
	}
	if pe.Fatal() {
		t.Error("plain failure reported fatal")
	}
}
