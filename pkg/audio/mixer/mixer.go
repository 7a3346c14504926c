// Package mixer serializes assistant speech onto a room's single output
// stream. Segments are played one at a time in priority order; a
// participant starting to talk (barge-in) cuts the current segment and
// discards everything queued behind it.
package mixer

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	// DefaultGap is the base silence inserted between consecutive segments.
	DefaultGap = 300 * time.Millisecond

	defaultQueueCap = 16
)

// Segment is one utterance of assistant speech. Audio is streamed so that
// playback can begin before synthesis completes; the producer closes Audio
// when the utterance ends.
type Segment struct {
	// Speaker is the participant the utterance answers. Empty for
	// utterances addressed to the whole room, such as the greeting.
	Speaker string

	// Audio carries 16-bit little-endian PCM in Format.
	Audio <-chan []byte

	// Format of the PCM on Audio.
	Format audio.Format

	// Priority orders queued segments; higher plays first and preempts a
	// lower-priority segment already playing.
	Priority int

	done chan struct{}
	once sync.Once
}

// NewSegment returns a segment ready to enqueue.
func NewSegment(speaker string, pcm <-chan []byte, format audio.Format, priority int) *Segment {
	return &Segment{
		Speaker:  speaker,
		Audio:    pcm,
		Format:   format,
		Priority: priority,
		done:     make(chan struct{}),
	}
}

// Done is closed once the segment has finished playing, was interrupted, or
// was discarded.
func (s *Segment) Done() <-chan struct{} { return s.done }

func (s *Segment) finish() {
	s.once.Do(func() { close(s.done) })
}

// Option configures a [Mixer].
type Option func(*Mixer)

// WithGap sets the base silence between consecutive segments. Jitter of
// ±1/6 of the gap is applied. Zero disables the gap.
func WithGap(d time.Duration) Option {
	return func(m *Mixer) { m.gap = d }
}

// Mixer plays [Segment] values through an output callback, one at a time.
// All methods are safe for concurrent use.
type Mixer struct {
	output func(audio.Frame)

	mu             sync.Mutex
	queue          queue
	gap            time.Duration
	playing        *Segment
	cancelPlaying  chan struct{}
	bargeInHandler func(speaker string)

	notify chan struct{}
	done   chan struct{}
	closed bool
}

// New starts a Mixer delivering frames to output. output is called
// sequentially from the mixer's goroutine. Call [Mixer.Close] to stop it.
func New(output func(audio.Frame), opts ...Option) *Mixer {
	m := &Mixer{
		output: output,
		queue:  queue{segs: make([]*Segment, 0, defaultQueueCap)},
		gap:    DefaultGap,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.dispatch()
	return m
}

// Enqueue schedules seg. A segment with a higher priority than the one
// playing interrupts it.
func (m *Mixer) Enqueue(seg *Segment) {
	if seg.done == nil {
		seg.done = make(chan struct{})
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		discard(seg)
		return
	}

	m.queue.push(seg)

	if m.playing != nil && seg.Priority > m.playing.Priority {
		m.interruptLocked(false)
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Interrupt stops the playing segment and advances to the next queued one.
func (m *Mixer) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptLocked(false)
}

// OnBargeIn registers the callback invoked by [Mixer.BargeIn], replacing any
// previous one. It runs on a new goroutine.
func (m *Mixer) OnBargeIn(handler func(speaker string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bargeInHandler = handler
}

// BargeIn reports that speaker started talking. It stops playback, discards
// the queue and, if anything was playing or queued, invokes the barge-in
// callback. It reports whether speech was cut.
func (m *Mixer) BargeIn(speaker string) bool {
	m.mu.Lock()
	cut := m.playing != nil || m.queue.Len() > 0
	handler := m.bargeInHandler
	m.interruptLocked(true)
	m.mu.Unlock()

	if cut && handler != nil {
		go handler(speaker)
	}
	return cut
}

// Playing reports whether a segment is currently being played.
func (m *Mixer) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing != nil
}

// SetGap changes the gap before the next segment.
func (m *Mixer) SetGap(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gap = d
}

// Close stops playback and discards queued segments. It is idempotent.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.interruptLocked(true)
	m.mu.Unlock()

	close(m.done)
	return nil
}

// interruptLocked must be called with m.mu held.
func (m *Mixer) interruptLocked(clearQueue bool) {
	if m.cancelPlaying != nil {
		close(m.cancelPlaying)
		m.cancelPlaying = nil
	}
	m.playing = nil

	if clearQueue {
		for _, seg := range m.queue.drain() {
			discard(seg)
		}
	}
}

func (m *Mixer) dispatch() {
	var lastPlayed bool

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}

		for {
			seg, cancel, ok := m.dequeue()
			if !ok {
				break
			}

			if lastPlayed {
				if d := m.gapWithJitter(); d > 0 {
					gapTimer.Reset(d)
					select {
					case <-m.done:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						discard(seg)
						return
					case <-cancel:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						discard(seg)
						continue
					case <-gapTimer.C:
					}
				}
			}

			m.play(seg, cancel)
			lastPlayed = true

			m.mu.Lock()
			if m.playing == seg {
				m.playing = nil
				m.cancelPlaying = nil
			}
			m.mu.Unlock()
		}
	}
}

func (m *Mixer) dequeue() (*Segment, chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Len() == 0 {
		return nil, nil, false
	}
	seg := m.queue.pop()
	cancel := make(chan struct{})
	m.playing = seg
	m.cancelPlaying = cancel
	return seg, cancel, true
}

// play streams seg to the output until it ends or cancel is closed.
func (m *Mixer) play(seg *Segment, cancel chan struct{}) {
	var offset time.Duration
	for {
		select {
		case <-m.done:
			discard(seg)
			return
		case <-cancel:
			discard(seg)
			return
		case pcm, ok := <-seg.Audio:
			if !ok {
				seg.finish()
				return
			}
			frame := audio.Frame{
				Data:       pcm,
				SampleRate: seg.Format.SampleRate,
				Channels:   seg.Format.Channels,
				Timestamp:  offset,
			}
			offset += frame.Duration()
			m.output(frame)
		}
	}
}

func (m *Mixer) gapWithJitter() time.Duration {
	m.mu.Lock()
	base := m.gap
	m.mu.Unlock()

	if base <= 0 {
		return 0
	}
	jitterRange := base / 6
	if jitterRange <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int64N(int64(2*jitterRange+1))) - jitterRange
	return base + jitter
}

// discard drains the rest of seg's audio so its producer never blocks.
func discard(seg *Segment) {
	seg.finish()
	go audio.Drain(seg.Audio)
}
