package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// participant is the listening pipeline of one remote speaker:
// room audio → 16 kHz mono → VAD → STT → turns.
type participant struct {
	c   *call
	id  string
	ctx context.Context
	log *slog.Logger

	vad     vad.SessionHandle
	conv    audio.Converter
	framer  *audio.Framer
	preroll [][]byte

	mu        sync.Mutex
	stt       stt.SessionHandle
	speechEnd time.Time
}

func (c *call) runParticipant(id string, in <-chan audio.Frame) {
	defer c.wg.Done()
	defer c.detach(id, in)

	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	p := &participant{
		c:      c,
		id:     id,
		ctx:    ctx,
		log:    c.log.With("participant", id),
		conv:   audio.Converter{Target: audio.Speech16kMono},
		framer: audio.NewFramer(audio.Speech16kMono.Bytes(time.Duration(c.rt.vadCfg.FrameSizeMs) * time.Millisecond)),
	}

	kinds := c.rt.providers.Kinds
	vs, err := c.rt.providers.VAD.NewSession(c.rt.vadCfg)
	if err != nil {
		c.report(&ProviderError{Modality: config.ModalityVAD, Kind: kinds.VAD, Op: "new session", Err: err})
		discardInput(ctx, in)
		return
	}
	p.vad = vs
	defer vs.Close()
	defer p.closeSTT()

	if m := c.rt.metrics; m != nil {
		m.ActiveParticipants.Add(c.ctx, 1)
		defer m.ActiveParticipants.Add(c.ctx, -1)
	}
	p.log.Debug("session: listening")

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			f = p.conv.Convert(f)
			for _, window := range p.framer.Write(f.Data) {
				if err := p.handleWindow(window); err != nil {
					c.report(&ProviderError{Modality: config.ModalityVAD, Kind: kinds.VAD, Op: "process frame", Err: err})
					discardInput(ctx, in)
					return
				}
			}
		}
	}
}

// handleWindow feeds one detector window through VAD and routes it.
func (p *participant) handleWindow(window []byte) error {
	ev, err := p.vad.ProcessFrame(window)
	if err != nil {
		return err
	}

	switch ev.Type {
	case vad.VADSpeechStart:
		p.c.bargeIn(p.id)
		if p.openSTT() {
			for _, w := range p.preroll {
				p.send(w)
			}
		}
		p.preroll = p.preroll[:0]
		p.send(window)

	case vad.VADSpeechContinue:
		p.send(window)

	case vad.VADSpeechEnd:
		p.send(window)
		p.finalize()

	case vad.VADSilence:
		if p.rt().prerollFrames <= 0 {
			return nil
		}
		if len(p.preroll) >= p.rt().prerollFrames {
			p.preroll = append(p.preroll[:0], p.preroll[1:]...)
		}
		p.preroll = append(p.preroll, window)
	}
	return nil
}

func (p *participant) rt() *Runtime { return p.c.rt }

// openSTT ensures a recognition stream is open. It reports whether one is.
func (p *participant) openSTT() bool {
	p.mu.Lock()
	open := p.stt != nil
	p.mu.Unlock()
	if open {
		return true
	}

	rt := p.rt()
	ctx, span := observe.StartSpan(p.ctx, "session.stt", trace.WithAttributes(
		observe.Attr("participant", p.id),
		observe.Attr("kind", rt.providers.Kinds.STT),
	))
	var sess stt.SessionHandle
	err := rt.sttBreaker.Execute(func() error {
		var err error
		sess, err = rt.providers.STT.StartStream(ctx, stt.StreamConfig{
			SampleRate: audio.Speech16kMono.SampleRate,
			Channels:   audio.Speech16kMono.Channels,
			Language:   rt.language,
		})
		return err
	})
	observe.EndSpan(span, err)
	if m := rt.metrics; m != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RecordProviderRequest(p.ctx, string(config.ModalitySTT), rt.providers.Kinds.STT, status)
	}
	if err != nil {
		p.c.report(&ProviderError{Modality: config.ModalitySTT, Kind: rt.providers.Kinds.STT, Op: "start stream", Err: err})
		return false
	}

	p.mu.Lock()
	p.stt = sess
	p.mu.Unlock()

	if partials := sess.Partials(); partials != nil {
		go audio.Drain(partials)
	}
	p.c.wg.Add(1)
	go p.readFinals(sess)
	return true
}

func (p *participant) send(window []byte) {
	p.mu.Lock()
	sess := p.stt
	p.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(window); err != nil {
		p.c.report(&ProviderError{Modality: config.ModalitySTT, Kind: p.rt().providers.Kinds.STT, Op: "send audio", Err: err})
		p.dropSTT(sess)
	}
}

func (p *participant) finalize() {
	p.mu.Lock()
	sess := p.stt
	p.speechEnd = time.Now()
	p.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.Finalize(); err != nil {
		p.c.report(&ProviderError{Modality: config.ModalitySTT, Kind: p.rt().providers.Kinds.STT, Op: "finalize", Err: err})
		p.dropSTT(sess)
	}
}

// readFinals turns final transcripts into user turns until the stream ends
// or the participant leaves.
func (p *participant) readFinals(sess stt.SessionHandle) {
	defer p.c.wg.Done()
	defer p.dropSTT(sess)

	finals := sess.Finals()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-finals:
			if !ok {
				if err := sess.Err(); err != nil {
					p.c.report(&ProviderError{Modality: config.ModalitySTT, Kind: p.rt().providers.Kinds.STT, Op: "stream", Err: err})
				}
				return
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			p.mu.Lock()
			ended := p.speechEnd
			p.mu.Unlock()
			if m := p.rt().metrics; m != nil && !ended.IsZero() {
				observe.Since(p.ctx, m.STTDuration, ended)
			}
			if ended.IsZero() {
				ended = time.Now()
			}
			p.c.submit(turn{speaker: p.id, text: text, endedAt: ended})
		}
	}
}

// dropSTT closes sess and forgets it if it is still the current stream.
func (p *participant) dropSTT(sess stt.SessionHandle) {
	p.mu.Lock()
	current := p.stt == sess
	if current {
		p.stt = nil
	}
	p.mu.Unlock()
	if current {
		if err := sess.Close(); err != nil {
			p.log.Debug("session: close stt stream", "err", err)
		}
	}
}

func (p *participant) closeSTT() {
	p.mu.Lock()
	sess := p.stt
	p.mu.Unlock()
	if sess != nil {
		p.dropSTT(sess)
	}
}

// discardInput consumes in so the room transport never blocks on a
// participant whose pipeline has stopped.
func discardInput(ctx context.Context, in <-chan audio.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-in:
			if !ok {
				return
			}
		}
	}
}
