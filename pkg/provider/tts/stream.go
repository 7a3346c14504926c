package tts

import "sync"

// Stream carries the audio of one synthesis request from a provider to its
// consumer. Providers create it with [NewStream], push audio with Send and
// call Finish exactly once when done. Consumers range over Audio and call
// Close if they stop reading early.
type Stream struct {
	audio chan []byte
	done  chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns a Stream whose audio channel buffers up to buffer chunks.
func NewStream(buffer int) *Stream {
	return &Stream{
		audio: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// Audio returns the channel of PCM chunks. It is closed after Finish.
func (s *Stream) Audio() <-chan []byte { return s.audio }

// Done is closed when the consumer calls Close.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Send delivers pcm to the consumer. It returns false if the consumer
// closed the stream.
func (s *Stream) Send(pcm []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.audio <- pcm:
		return true
	case <-s.done:
		return false
	}
}

// Fail records err as the stream's failure. Only the first error is kept.
func (s *Stream) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Finish closes the audio channel. Subsequent calls are no-ops.
func (s *Stream) Finish() {
	s.finishOnce.Do(func() { close(s.audio) })
}

// Err returns the error recorded with Fail, if any. It is final once the
// audio channel has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tells the provider the consumer has stopped reading. It is safe to
// call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
