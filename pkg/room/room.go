// Package room defines the connection to a live call: a room that remote
// participants speak into and that the assistant speaks back to.
//
//   - [Connector] joins a room by name and returns a [Room].
//   - [Room] exposes per-participant input audio, a single output stream,
//     and participant lifecycle events.
//
// Transport implementations live in the livekit and discord sub-packages;
// an in-memory implementation for tests lives in room/mock.
package room

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrClosed is returned by operations on a room that has been disconnected.
var ErrClosed = errors.New("room: closed")

// EventType classifies participant lifecycle events emitted by a [Room].
type EventType int

const (
	// EventJoin is emitted when a participant starts publishing audio.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change.
type Event struct {
	Type EventType

	// ParticipantID is the transport-specific participant identity.
	ParticipantID string

	// Name is the human-readable display name, if known.
	Name string
}

// Room is an active connection to a call.
//
// All input channels are closed when the room terminates. Implementations
// must be safe for concurrent use.
type Room interface {
	// Name returns the room (or channel) name that was joined.
	Name() string

	// InputStreams returns a snapshot of the per-participant audio channels,
	// keyed by participant ID. Call it again after an [EventJoin] to pick up
	// new participants.
	InputStreams() map[string]<-chan audio.Frame

	// OutputStream returns the channel for assistant audio. Frames may be in
	// any format; the room converts them to its transport format. The room
	// never closes this channel; writes after Disconnect are dropped.
	OutputStream() chan<- audio.Frame

	// OnParticipantChange registers cb for join and leave events, replacing
	// any previous callback. cb is invoked on an internal goroutine.
	OnParticipantChange(cb func(Event))

	// Done is closed when the room ends, either through Disconnect or
	// because the transport dropped the connection.
	Done() <-chan struct{}

	// Disconnect leaves the room. It is safe to call more than once.
	Disconnect() error
}

// Connector joins rooms.
type Connector interface {
	// Connect joins the room identified by name. ctx bounds the connection
	// attempt only; the returned Room lives until Disconnect.
	Connect(ctx context.Context, name string) (Room, error)
}
