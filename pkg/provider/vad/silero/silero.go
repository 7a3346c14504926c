// Package silero provides a [vad.Engine] backed by the Silero VAD ONNX model
// through github.com/streamer45/silero-vad-go. The ONNX Runtime shared
// library must be available at link and run time.
//
// The model is loaded once by [Load]; sessions borrow detectors from a small
// idle pool so that short-lived participant streams do not pay the model
// initialisation cost on every join.
package silero

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/streamer45/silero-vad-go/speech"
)

const (
	defaultThreshold    = 0.5
	defaultMinSilenceMs = 300
	defaultSpeechPadMs  = 30
	defaultSampleRate   = 16000
	maxIdle             = 8
)

var _ vad.Engine = (*Engine)(nil)

// Option is a functional option for [Load].
type Option func(*Engine)

// WithThreshold sets the default speech probability threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithMinSilenceMs sets how long the probability must stay low before an
// active segment ends.
func WithMinSilenceMs(ms int) Option {
	return func(e *Engine) { e.minSilenceMs = ms }
}

// WithSpeechPadMs sets the padding applied to detected segment boundaries.
func WithSpeechPadMs(ms int) Option {
	return func(e *Engine) { e.speechPadMs = ms }
}

// Engine is a Silero VAD engine. It is safe for concurrent use.
type Engine struct {
	modelPath    string
	threshold    float64
	minSilenceMs int
	speechPadMs  int

	mu     sync.Mutex
	idle   []*speech.Detector
	closed bool
}

// Load validates modelPath and initialises one detector so that a broken
// model or runtime fails here rather than on the first participant.
func Load(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model: %w", err)
	}
	e := &Engine{
		modelPath:    modelPath,
		threshold:    defaultThreshold,
		minSilenceMs: defaultMinSilenceMs,
		speechPadMs:  defaultSpeechPadMs,
	}
	for _, o := range opts {
		o(e)
	}
	if e.threshold <= 0 || e.threshold >= 1 {
		return nil, fmt.Errorf("silero: threshold %v out of range (0, 1)", e.threshold)
	}

	d, err := e.newDetector(defaultSampleRate, e.threshold)
	if err != nil {
		return nil, err
	}
	e.idle = append(e.idle, d)
	slog.Info("silero: model loaded", "path", modelPath, "threshold", e.threshold)
	return e, nil
}

// NewSession implements [vad.Engine]. cfg.SampleRate must be 8000 or 16000;
// a zero SpeechThreshold uses the engine default.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	if rate != 8000 && rate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", rate)
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = e.threshold
	}

	pooled := rate == defaultSampleRate && threshold == e.threshold
	var det *speech.Detector
	if pooled {
		det = e.take()
	}
	if det == nil {
		d, err := e.newDetector(rate, threshold)
		if err != nil {
			return nil, err
		}
		det = d
	}

	return &session{
		eng:    e,
		det:    det,
		pooled: pooled,
		window: windowSize(rate),
	}, nil
}

// Close destroys all idle detectors. Sessions still open release their
// detectors when they close.
func (e *Engine) Close() error {
	e.mu.Lock()
	idle := e.idle
	e.idle = nil
	e.closed = true
	e.mu.Unlock()

	var errs []error
	for _, d := range idle {
		errs = append(errs, d.Destroy())
	}
	return errors.Join(errs...)
}

func (e *Engine) newDetector(rate int, threshold float64) (*speech.Detector, error) {
	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           rate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: e.minSilenceMs,
		SpeechPadMs:          e.speechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return d, nil
}

func (e *Engine) take() *speech.Detector {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.idle) == 0 {
		return nil
	}
	d := e.idle[len(e.idle)-1]
	e.idle = e.idle[:len(e.idle)-1]
	return d
}

// give returns d to the idle pool, or destroys it when the pool is full or
// the engine has been closed.
func (e *Engine) give(d *speech.Detector) error {
	if err := d.Reset(); err != nil {
		return errors.Join(err, d.Destroy())
	}
	e.mu.Lock()
	if !e.closed && len(e.idle) < maxIdle {
		e.idle = append(e.idle, d)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return d.Destroy()
}

// windowSize is the number of samples Silero evaluates per inference.
func windowSize(rate int) int {
	if rate == 8000 {
		return 256
	}
	return 512
}

type session struct {
	eng    *Engine
	det    *speech.Detector
	pooled bool
	window int

	buf      []float32
	speaking bool
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame buffers frame and runs inference over every complete window.
// Frames shorter than a window only update the buffer.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("silero: session closed")
	}
	s.buf = append(s.buf, audio.PCM16ToFloat32(frame)...)

	var segs []speech.Segment
	for len(s.buf) > s.window {
		// Detect skips the final window of its input, so pass one sample
		// beyond the last complete window and keep it for the next call.
		n := (len(s.buf) - 1) / s.window
		got, err := s.det.Detect(s.buf[:n*s.window+1])
		if err != nil {
			return vad.VADEvent{}, fmt.Errorf("silero: detect: %w", err)
		}
		segs = append(segs, got...)
		s.buf = append(s.buf[:0], s.buf[n*s.window:]...)
	}

	t := transition(s.speaking, segs)
	s.speaking = t.Speaking()
	ev := vad.VADEvent{Type: t}
	if s.speaking {
		ev.Probability = 1
	}
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	if s.closed {
		return
	}
	if err := s.det.Reset(); err != nil {
		slog.Warn("silero: reset detector", "err", err)
	}
	s.buf = s.buf[:0]
	s.speaking = false
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pooled {
		return s.eng.give(s.det)
	}
	return s.det.Destroy()
}

// transition folds the segments reported for one frame into a single event.
// A segment without an end marks speech in progress; a segment with an end
// closes it. Speech that starts and ends inside one frame is reported as an
// end so that downstream consumers still finalise the utterance.
func transition(speaking bool, segs []speech.Segment) vad.VADEventType {
	if len(segs) == 0 {
		if speaking {
			return vad.VADSpeechContinue
		}
		return vad.VADSilence
	}
	last := segs[len(segs)-1]
	switch nowSpeaking := last.SpeechEndAt == 0; {
	case nowSpeaking && !speaking:
		return vad.VADSpeechStart
	case nowSpeaking:
		return vad.VADSpeechContinue
	default:
		return vad.VADSpeechEnd
	}
}
