// Package mock provides in-memory implementations of [room.Room] and
// [room.Connector] for unit tests.
//
// Both mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and they expose fields that control
// return values.
//
//	r := mock.NewRoom("demo")
//	in := r.AddParticipant("alice")
//	conn := &mock.Connector{ConnectResult: r}
//	got, err := conn.Connect(ctx, "demo")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/room"
)

var (
	_ room.Room      = (*Room)(nil)
	_ room.Connector = (*Connector)(nil)
)

// ─── Room ────────────────────────────────────────────────────────────────────

// Room is a mock [room.Room]. Audio written by the assistant is readable from
// Output; participant audio is injected through the channels returned by
// [Room.AddParticipant].
type Room struct {
	mu sync.Mutex

	name   string
	inputs map[string]chan audio.Frame
	cb     func(room.Event)

	// Output receives everything written to OutputStream.
	Output chan audio.Frame

	// DisconnectError is returned by [Room.Disconnect].
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	done      chan struct{}
	closeOnce sync.Once
}

// NewRoom returns an empty mock room with a 256-frame output buffer.
func NewRoom(name string) *Room {
	return &Room{
		name:   name,
		inputs: make(map[string]chan audio.Frame),
		Output: make(chan audio.Frame, 256),
		done:   make(chan struct{}),
	}
}

// Name implements [room.Room].
func (r *Room) Name() string { return r.name }

// InputStreams implements [room.Room].
func (r *Room) InputStreams() map[string]<-chan audio.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]<-chan audio.Frame, len(r.inputs))
	for id, ch := range r.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream implements [room.Room].
func (r *Room) OutputStream() chan<- audio.Frame { return r.Output }

// OnParticipantChange implements [room.Room].
func (r *Room) OnParticipantChange(cb func(room.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = cb
}

// Done implements [room.Room].
func (r *Room) Done() <-chan struct{} { return r.done }

// Disconnect implements [room.Room]. It closes every input channel and Done.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	r.CallCountDisconnect++
	err := r.DisconnectError
	r.mu.Unlock()
	r.Close()
	return err
}

// Close ends the room as if the transport had dropped it.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		for id, ch := range r.inputs {
			close(ch)
			delete(r.inputs, id)
		}
		r.mu.Unlock()
		close(r.done)
	})
}

// AddParticipant adds a participant and emits an [room.EventJoin]. The
// returned channel feeds that participant's audio; close it or call
// [Room.RemoveParticipant] to end the stream.
func (r *Room) AddParticipant(id string) chan<- audio.Frame {
	ch := make(chan audio.Frame, 256)
	r.mu.Lock()
	r.inputs[id] = ch
	r.mu.Unlock()
	r.Emit(room.Event{Type: room.EventJoin, ParticipantID: id})
	return ch
}

// RemoveParticipant closes the participant's stream and emits
// [room.EventLeave].
func (r *Room) RemoveParticipant(id string) {
	r.mu.Lock()
	ch, ok := r.inputs[id]
	delete(r.inputs, id)
	r.mu.Unlock()
	if ok {
		close(ch)
		r.Emit(room.Event{Type: room.EventLeave, ParticipantID: id})
	}
}

// Emit invokes the registered callback synchronously.
func (r *Room) Emit(ev room.Event) {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// DisconnectCount returns CallCountDisconnect under the lock.
func (r *Room) DisconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountDisconnect
}

// ─── Connector ───────────────────────────────────────────────────────────────

// Connector is a mock [room.Connector].
type Connector struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect when ConnectErr is nil.
	ConnectResult room.Room

	// ConnectErr is returned by Connect when non-nil.
	ConnectErr error

	// ConnectCalls records the room names passed to Connect.
	ConnectCalls []string
}

// Connect implements [room.Connector].
func (c *Connector) Connect(_ context.Context, name string) (room.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls = append(c.ConnectCalls, name)
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	return c.ConnectResult, nil
}

// CallCount returns the number of Connect calls.
func (c *Connector) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ConnectCalls)
}
