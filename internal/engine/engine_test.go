package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

var testVoice = tts.VoiceProfile{ID: "voice-1", Provider: "mock"}

func userPrompt(text string) Prompt {
	return Prompt{
		SystemPrompt: "You are a helpful assistant.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
	}
}

// collect drains the reply's audio and waits for the completion side.
func collect(t *testing.T, r *Reply) [][]byte {
	t.Helper()
	var out [][]byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case pcm, ok := <-r.Audio():
			if !ok {
				r.Wait()
				return out
			}
			out = append(out, pcm)
		case <-timeout:
			t.Fatal("timed out waiting for reply audio")
		}
	}
}

func TestProcess_StreamsSentencesToTTS(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there. How"},
		{Text: " are you?"},
		{Text: " Bye", FinishReason: "stop"},
	}}
	s := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}}

	e := New(l, s, testVoice)
	r, err := e.Process(context.Background(), userPrompt("hi"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	audio := collect(t, r)

	if len(audio) != 2 {
		t.Errorf("audio chunks = %d, want 2", len(audio))
	}
	want := []string{"Hello there.", "How are you?", "Bye"}
	got := s.Texts()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("TTS texts = %q, want %q", got, want)
	}
	if r.Text() != "Hello there. How are you? Bye" {
		t.Errorf("Text() = %q", r.Text())
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
	if calls := s.SynthesizeStreamCalls; len(calls) != 1 || calls[0].Voice.ID != "voice-1" {
		t.Errorf("SynthesizeStream calls = %+v", calls)
	}
}

func TestProcess_SendsPromptVerbatim(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
	e := New(l, &ttsmock.Provider{}, testVoice)

	p := userPrompt("what time is it")
	p.SystemPrompt = "  Speak like a pirate.\n"
	r, err := e.Process(context.Background(), p)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	reqs := l.StreamRequests()
	if len(reqs) != 1 {
		t.Fatalf("StreamCompletion calls = %d, want 1", len(reqs))
	}
	if reqs[0].SystemPrompt != "  Speak like a pirate.\n" {
		t.Errorf("SystemPrompt = %q", reqs[0].SystemPrompt)
	}
	if len(reqs[0].Tools) != 0 {
		t.Errorf("Tools = %v, want none", reqs[0].Tools)
	}
	if len(reqs[0].Messages) != 1 || reqs[0].Messages[0].Content != "what time is it" {
		t.Errorf("Messages = %+v", reqs[0].Messages)
	}
}

func TestProcess_StripsReasoning(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "<think>The user"},
		{Text: " wants a greeting.</think>"},
		{Text: "Hi!"},
	}}
	s := &ttsmock.Provider{}
	r, err := New(l, s, testVoice).Process(context.Background(), userPrompt("hello"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	for _, txt := range s.Texts() {
		if strings.Contains(txt, "think") || strings.Contains(txt, "greeting") {
			t.Errorf("reasoning reached TTS: %q", txt)
		}
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Content != "Hi!" {
		t.Errorf("Messages() = %+v, want one assistant message %q", msgs, "Hi!")
	}
}

func TestProcess_NoToolsIgnoresToolCalls(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Let me check.", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "current_time", Arguments: "{}"}}},
	}}
	e := New(l, &ttsmock.Provider{}, testVoice, WithTools(nil, func(context.Context, string, string) (string, error) {
		t.Error("executor called for an assistant without tools")
		return "", nil
	}))
	if e.HasTools() {
		t.Fatal("HasTools() = true with no definitions")
	}

	r, err := e.Process(context.Background(), userPrompt("time?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	if n := l.StreamCallCount(); n != 1 {
		t.Errorf("StreamCompletion calls = %d, want 1", n)
	}
	msgs := r.Messages()
	if len(msgs) != 1 || len(msgs[0].ToolCalls) != 0 {
		t.Errorf("Messages() = %+v, want one plain assistant message", msgs)
	}
}

func TestProcess_ToolRound(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamScript: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "current_time", Arguments: `{"timezone":"UTC"}`}}, FinishReason: "tool_calls"}},
		{{Text: "It is noon."}},
	}}
	defs := []llm.ToolDefinition{{Name: "current_time", Description: "now"}}
	var gotArgs string
	exec := func(_ context.Context, name, args string) (string, error) {
		if name != "current_time" {
			t.Errorf("tool name = %q", name)
		}
		gotArgs = args
		return `{"time":"12:00"}`, nil
	}
	s := &ttsmock.Provider{}
	r, err := New(l, s, testVoice, WithTools(defs, exec)).Process(context.Background(), userPrompt("time?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	if gotArgs != `{"timezone":"UTC"}` {
		t.Errorf("tool args = %q", gotArgs)
	}
	reqs := l.StreamRequests()
	if len(reqs) != 2 {
		t.Fatalf("StreamCompletion calls = %d, want 2", len(reqs))
	}
	if len(reqs[0].Tools) != 1 {
		t.Errorf("first request Tools = %v", reqs[0].Tools)
	}
	second := reqs[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request messages = %d, want 3", len(second))
	}
	if second[1].Role != llm.RoleAssistant || len(second[1].ToolCalls) != 1 {
		t.Errorf("assistant tool message = %+v", second[1])
	}
	if second[2].Role != llm.RoleTool || second[2].ToolCallID != "c1" || second[2].Content != `{"time":"12:00"}` {
		t.Errorf("tool result message = %+v", second[2])
	}
	if got := s.Texts(); len(got) != 1 || got[0] != "It is noon." {
		t.Errorf("TTS texts = %q", got)
	}
	if n := len(r.Messages()); n != 3 {
		t.Errorf("Messages() = %d entries, want 3", n)
	}
}

func TestProcess_ToolErrorIsReportedToModel(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamScript: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "calculate", Arguments: "{}"}}}},
		{{Text: "Sorry."}},
	}}
	exec := func(context.Context, string, string) (string, error) { return "", errors.New("missing operand") }
	r, err := New(l, &ttsmock.Provider{}, testVoice,
		WithTools([]llm.ToolDefinition{{Name: "calculate"}}, exec)).Process(context.Background(), userPrompt("x"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	reqs := l.StreamRequests()
	if len(reqs) != 2 {
		t.Fatalf("StreamCompletion calls = %d, want 2", len(reqs))
	}
	if last := reqs[1].Messages[2]; !strings.Contains(last.Content, "missing operand") {
		t.Errorf("tool message = %q, want the error text", last.Content)
	}
}

func TestProcess_ToolRoundLimit(t *testing.T) {
	t.Parallel()
	loop := []llm.Chunk{{ToolCalls: []llm.ToolCall{{ID: "c", Name: "calculate", Arguments: "{}"}}}}
	l := &llmmock.Provider{StreamChunks: loop}
	var calls atomic.Int32
	exec := func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "{}", nil
	}
	r, err := New(l, &ttsmock.Provider{}, testVoice,
		WithTools([]llm.ToolDefinition{{Name: "calculate"}}, exec),
		WithMaxToolRounds(2)).Process(context.Background(), userPrompt("loop"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	if n := calls.Load(); n != 2 {
		t.Errorf("tool executions = %d, want 2", n)
	}
	if n := l.StreamCallCount(); n != 3 {
		t.Errorf("StreamCompletion calls = %d, want 3", n)
	}
}

func TestProcess_LLMStartError(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection refused")
	l := &llmmock.Provider{StreamErr: boom}
	_, err := New(l, &ttsmock.Provider{}, testVoice).Process(context.Background(), userPrompt("hi"))

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Process error = %v, want *StageError", err)
	}
	if se.Stage != config.ModalityLLM || !errors.Is(err, boom) {
		t.Errorf("StageError = %+v", se)
	}
}

func TestProcess_TTSStartError(t *testing.T) {
	t.Parallel()
	boom := errors.New("unauthorized")
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hi"}}}
	_, err := New(l, &ttsmock.Provider{SynthesizeErr: boom}, testVoice).Process(context.Background(), userPrompt("hi"))

	var se *StageError
	if !errors.As(err, &se) || se.Stage != config.ModalityTTS {
		t.Fatalf("Process error = %v, want TTS StageError", err)
	}
	if n := l.StreamCallCount(); n != 0 {
		t.Errorf("StreamCompletion called %d times after TTS failed to start", n)
	}
}

func TestProcess_LLMStreamError(t *testing.T) {
	t.Parallel()
	boom := errors.New("stream reset")
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Part one."},
		{Err: boom, FinishReason: llm.FinishError},
	}}
	r, err := New(l, &ttsmock.Provider{}, testVoice).Process(context.Background(), userPrompt("hi"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	var se *StageError
	if !errors.As(r.Err(), &se) || se.Stage != config.ModalityLLM || !errors.Is(r.Err(), boom) {
		t.Errorf("Err() = %v, want LLM StageError wrapping %v", r.Err(), boom)
	}
}

func TestProcess_TTSStreamError(t *testing.T) {
	t.Parallel()
	boom := errors.New("quota exceeded")
	l := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hi"}}}
	r, err := New(l, &ttsmock.Provider{StreamErr: boom}, testVoice).Process(context.Background(), userPrompt("hi"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, r)

	var se *StageError
	if !errors.As(r.Err(), &se) || se.Stage != config.ModalityTTS || !errors.Is(r.Err(), boom) {
		t.Errorf("Err() = %v, want TTS StageError wrapping %v", r.Err(), boom)
	}
}

func TestProcess_BreakerOpens(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{StreamErr: errors.New("down")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm", MaxFailures: 2, ResetTimeout: time.Hour})
	e := New(l, &ttsmock.Provider{}, testVoice, WithBreakers(cb, nil))

	for range 2 {
		if _, err := e.Process(context.Background(), userPrompt("hi")); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := e.Process(context.Background(), userPrompt("hi"))
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("third Process error = %v, want ErrCircuitOpen", err)
	}
	if n := l.StreamCallCount(); n != 2 {
		t.Errorf("StreamCompletion calls = %d, want 2", n)
	}
}

func TestProcess_CancelClosesAudio(t *testing.T) {
	t.Parallel()
	// An unbuffered, never-closed stream keeps the reply open until cancel.
	blocking := make(chan llm.Chunk)
	l := &blockingLLM{Provider: &llmmock.Provider{}, ch: blocking}
	ctx, cancel := context.WithCancel(context.Background())
	r, err := New(l, &ttsmock.Provider{}, testVoice).Process(ctx, userPrompt("hi"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	cancel()
	collect(t, r)
	if err := r.Err(); err != nil {
		t.Errorf("Err() after cancel = %v, want nil", err)
	}
}

type blockingLLM struct {
	*llmmock.Provider
	ch chan llm.Chunk
}

func (b *blockingLLM) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return b.ch, nil
}
