// Package engine runs the language-model and synthesis half of a
// conversational turn: it streams a completion, forwards each finished
// sentence to text-to-speech as soon as it is complete, and, when the
// assistant has capabilities, executes requested tool calls and continues
// the completion with their results.
//
// An [Engine] is stateless between turns; conversation history is owned by
// the caller and passed in with every [Prompt].
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// defaultMaxToolRounds bounds how many times one reply may call tools
	// before the model must answer.
	defaultMaxToolRounds = 3

	// defaultTextBuf is the buffer depth of the sentence channel feeding TTS.
	defaultTextBuf = 16
)

// StageError reports which modality failed during a reply.
type StageError struct {
	Stage config.Modality
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("engine: %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// ToolExecutor runs a tool call and returns its JSON result.
type ToolExecutor func(ctx context.Context, name, args string) (string, error)

// Prompt is the input of one reply.
type Prompt struct {
	// SystemPrompt is the persona, sent verbatim.
	SystemPrompt string

	// Messages is the conversation so far, ending with the user's turn.
	Messages []llm.Message
}

// Option configures an [Engine].
type Option func(*Engine)

// WithTools offers defs to the model and runs requested calls with exec.
// Without this option, or with an empty defs, the request carries no tools
// and tool calls returned by the model are ignored.
func WithTools(defs []llm.ToolDefinition, exec ToolExecutor) Option {
	return func(e *Engine) {
		if len(defs) == 0 || exec == nil {
			e.tools, e.exec = nil, nil
			return
		}
		e.tools = append([]llm.ToolDefinition(nil), defs...)
		e.exec = exec
	}
}

// WithMaxToolRounds overrides the number of tool rounds per reply.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) { e.maxToolRounds = n }
}

// WithBreakers guards the start of every completion and synthesis with the
// given circuit breakers. Either may be nil.
func WithBreakers(llmCB, ttsCB *resilience.CircuitBreaker) Option {
	return func(e *Engine) {
		e.llmBreaker = llmCB
		e.ttsBreaker = ttsCB
	}
}

// WithMetrics records stage latencies on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine produces spoken replies. It is safe for concurrent use.
type Engine struct {
	llm   llm.Provider
	tts   tts.Provider
	voice tts.VoiceProfile

	tools         []llm.ToolDefinition
	exec          ToolExecutor
	maxToolRounds int

	llmBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New returns an Engine speaking with voice.
func New(l llm.Provider, t tts.Provider, voice tts.VoiceProfile, opts ...Option) *Engine {
	e := &Engine{
		llm:           l,
		tts:           t,
		voice:         voice,
		maxToolRounds: defaultMaxToolRounds,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HasTools reports whether replies may execute tool calls.
func (e *Engine) HasTools() bool { return e.exec != nil }

// SampleRate is the rate of the PCM delivered by [Reply.Audio].
func (e *Engine) SampleRate() int { return e.tts.SampleRate() }

// Process starts a reply to p. It returns once both the synthesis stream and
// the first completion have started; text and audio keep streaming after
// that. Cancelling ctx aborts the reply and closes its audio.
//
// Errors returned from Process, and from [Reply.Err], are *StageError.
func (e *Engine) Process(ctx context.Context, p Prompt) (*Reply, error) {
	textCh := make(chan string, defaultTextBuf)

	ttsCtx, ttsSpan := observe.StartSpan(ctx, "engine.tts", trace.WithAttributes(observe.Attr("voice", e.voice.ID)))
	var stream *tts.Stream
	if err := guard(e.ttsBreaker, func() error {
		var err error
		stream, err = e.tts.SynthesizeStream(ttsCtx, textCh, e.voice)
		return err
	}); err != nil {
		observe.EndSpan(ttsSpan, err)
		return nil, &StageError{Stage: config.ModalityTTS, Err: err}
	}

	req := llm.CompletionRequest{
		SystemPrompt: p.SystemPrompt,
		Messages:     append([]llm.Message(nil), p.Messages...),
		Tools:        e.tools,
	}
	start := time.Now()
	chunks, span, err := e.startCompletion(ctx, req, 0)
	if err != nil {
		close(textCh)
		stream.Close()
		observe.EndSpan(ttsSpan, nil)
		return nil, err
	}

	r := &Reply{stream: stream, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer close(textCh)
		r.setErr(e.run(ctx, req, chunks, span, start, textCh, r))
		var se *StageError
		if errors.As(r.Err(), &se) && se.Stage == config.ModalityTTS {
			observe.EndSpan(ttsSpan, se.Err)
			return
		}
		observe.EndSpan(ttsSpan, nil)
	}()
	return r, nil
}

// startCompletion opens one completion round. The returned span covers the
// round and is ended by the caller once the stream is consumed.
func (e *Engine) startCompletion(ctx context.Context, req llm.CompletionRequest, round int) (<-chan llm.Chunk, trace.Span, error) {
	ctx, span := observe.StartSpan(ctx, "engine.llm", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("messages", len(req.Messages)),
	))
	var ch <-chan llm.Chunk
	err := guard(e.llmBreaker, func() error {
		var err error
		ch, err = e.llm.StreamCompletion(ctx, req)
		return err
	})
	if err != nil {
		observe.EndSpan(span, err)
		return nil, nil, &StageError{Stage: config.ModalityLLM, Err: err}
	}
	return ch, span, nil
}

// run consumes completions, executing tool rounds, until the model answers
// without tool calls or the round budget is spent.
func (e *Engine) run(ctx context.Context, req llm.CompletionRequest, chunks <-chan llm.Chunk, span trace.Span, start time.Time, textCh chan<- string, r *Reply) error {
	for round := 0; ; round++ {
		text, calls, err := e.consume(ctx, chunks, start, textCh, r)
		span.SetAttributes(attribute.Int("tool_calls", len(calls)))
		observe.EndSpan(span, err)
		if err != nil {
			return err
		}

		var granted []llm.ToolCall
		if e.exec != nil {
			granted = calls
		}
		msg := llm.AssistantMessage(text, granted)
		if !msg.Empty() {
			r.addMessage(msg)
			req.Messages = append(req.Messages, msg)
		}

		switch {
		case len(calls) == 0:
			return nil
		case e.exec == nil:
			e.log.Warn("engine: model requested tools but none are granted; ignoring", "calls", len(calls))
			return nil
		case round >= e.maxToolRounds:
			e.log.Warn("engine: tool round limit reached", "rounds", e.maxToolRounds)
			return nil
		}

		for _, tc := range calls {
			result := e.runTool(ctx, tc)
			toolMsg := llm.ToolResult(tc, result)
			r.addMessage(toolMsg)
			req.Messages = append(req.Messages, toolMsg)
		}
		if ctx.Err() != nil {
			return nil
		}

		start = time.Now()
		chunks, span, err = e.startCompletion(ctx, req, round+1)
		if err != nil {
			return err
		}
	}
}

// consume reads one completion stream, forwarding speakable sentences to
// textCh. It returns the cleaned full text and any tool calls.
func (e *Engine) consume(ctx context.Context, chunks <-chan llm.Chunk, start time.Time, textCh chan<- string, r *Reply) (string, []llm.ToolCall, error) {
	var (
		filter   reasoningFilter
		splitter sentenceSplitter
		full     strings.Builder
		calls    []llm.ToolCall
		first    = true
	)
	emit := func(sentences ...string) bool {
		for _, s := range sentences {
			if s == "" {
				continue
			}
			r.appendSpoken(s)
			select {
			case textCh <- s:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			go drainChunks(chunks)
			return full.String(), nil, nil
		case chunk, ok := <-chunks:
			if !ok {
				rest := filter.Flush()
				full.WriteString(rest)
				emit(append(splitter.Write(rest), splitter.Flush())...)
				return strings.TrimSpace(full.String()), calls, nil
			}
			if first && (chunk.Text != "" || len(chunk.ToolCalls) > 0) {
				first = false
				if e.metrics != nil {
					observe.Since(ctx, e.metrics.LLMDuration, start)
				}
			}
			if chunk.Err != nil || chunk.FinishReason == llm.FinishError {
				go drainChunks(chunks)
				err := chunk.Err
				if err == nil {
					err = errors.New("completion stream failed")
				}
				return "", nil, &StageError{Stage: config.ModalityLLM, Err: err}
			}
			calls = append(calls, chunk.ToolCalls...)

			speakable := filter.Write(chunk.Text)
			full.WriteString(speakable)
			if !emit(splitter.Write(speakable)...) {
				go drainChunks(chunks)
				return full.String(), nil, nil
			}
		}
	}
}

func (e *Engine) runTool(ctx context.Context, tc llm.ToolCall) string {
	start := time.Now()
	result, err := e.exec(ctx, tc.Name, tc.Arguments)
	status := "ok"
	if err != nil {
		status = "error"
		e.log.Warn("engine: tool call failed", "tool", tc.Name, "err", err)
		result = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if e.metrics != nil {
		observe.Since(ctx, e.metrics.ToolExecutionDuration, start, observe.Attr("tool", tc.Name))
		e.metrics.RecordToolCall(ctx, tc.Name, status)
	}
	return result
}

func guard(cb *resilience.CircuitBreaker, fn func() error) error {
	if cb == nil {
		return fn()
	}
	return cb.Execute(fn)
}

func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}

// Reply is an in-flight assistant reply.
type Reply struct {
	stream *tts.Stream
	done   chan struct{}

	mu       sync.Mutex
	spoken   []string
	messages []llm.Message
	err      error
}

// Audio returns the synthesized PCM. It closes when the reply is complete,
// cancelled, or failed.
func (r *Reply) Audio() <-chan []byte { return r.stream.Audio() }

// Wait blocks until the completion side of the reply has finished.
func (r *Reply) Wait() { <-r.done }

// Stop abandons the reply's audio. Use it when playback is cut short
// without cancelling the reply's context.
func (r *Reply) Stop() { r.stream.Close() }

// Text returns the sentences handed to synthesis so far, joined by spaces.
func (r *Reply) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.spoken, " ")
}

// Messages returns the assistant and tool messages the reply produced, in
// order, for appending to the conversation history. Call after Wait.
func (r *Reply) Messages() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.Message(nil), r.messages...)
}

// Err returns the first failure of the completion or the synthesis. It is
// final once Wait has returned and Audio has been closed.
func (r *Reply) Err() error {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if serr := r.stream.Err(); serr != nil {
		return &StageError{Stage: config.ModalityTTS, Err: serr}
	}
	return nil
}

func (r *Reply) setErr(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

func (r *Reply) appendSpoken(s string) {
	r.mu.Lock()
	r.spoken = append(r.spoken, s)
	r.mu.Unlock()
}

func (r *Reply) addMessage(m llm.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}
