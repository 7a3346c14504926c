package livekit

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/room"
)

var _ room.Room = (*Room)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64

	// Browsers publish mono Opus microphones.
	trackChannels = 1
)

// Room is a joined LiveKit room. Each subscribed remote audio track becomes
// one input stream keyed by participant identity.
//
// Room is safe for concurrent use.
type Room struct {
	name     string
	identity string

	mu     sync.Mutex
	lk     *lksdk.Room
	inputs map[string]chan audio.Frame

	output chan audio.Frame

	changeMu sync.Mutex
	changeCb func(room.Event)

	done      chan struct{}
	closeOnce sync.Once
}

func newRoom(name, identity string) *Room {
	return &Room{
		name:     name,
		identity: identity,
		inputs:   make(map[string]chan audio.Frame),
		output:   make(chan audio.Frame, outputChannelBuffer),
		done:     make(chan struct{}),
	}
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio || rp.Identity() == r.identity {
					return
				}
				go r.consume(rp.Identity(), rp.Name(), func() ([]byte, error) {
					pkt, _, err := track.ReadRTP()
					if err != nil {
						return nil, err
					}
					return pkt.Payload, nil
				})
			},
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.closeInput(rp.Identity(), rp.Name(), nil)
		},
		OnDisconnected: func() {
			slog.Info("livekit: disconnected from room", "room", r.name)
			r.shutdown()
		},
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
func (r *Room) OutputStream() chan<- audio.Frame { return r.output }

// OnParticipantChange implements [room.Room].
func (r *Room) OnParticipantChange(cb func(room.Event)) {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()
	r.changeCb = cb
}

// Done implements [room.Room].
func (r *Room) Done() <-chan struct{} { return r.done }

// Disconnect implements [room.Room].
func (r *Room) Disconnect() error {
	r.mu.Lock()
	lk := r.lk
	r.mu.Unlock()
	if lk != nil {
		lk.Disconnect()
	}
	r.shutdown()
	return nil
}

func (r *Room) shutdown() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		for id, ch := range r.inputs {
			close(ch)
			delete(r.inputs, id)
		}
		r.mu.Unlock()
	})
}

// consume decodes Opus payloads returned by read until it fails, feeding
// the participant's input stream. One consumer runs per subscribed track.
func (r *Room) consume(identity, name string, read func() ([]byte, error)) {
	dec, err := audio.NewOpusDecoder(trackChannels)
	if err != nil {
		slog.Error("livekit: failed to create opus decoder", "participant", identity, "err", err)
		return
	}

	ch, ok := r.openInput(identity)
	if !ok {
		return
	}
	r.emit(room.Event{Type: room.EventJoin, ParticipantID: identity, Name: name})
	defer r.closeInput(identity, name, ch)

	start := time.Now()
	for {
		payload, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("livekit: track read ended", "participant", identity, "err", err)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}
		frame, err := dec.Decode(payload)
		if err != nil {
			slog.Warn("livekit: opus decode error", "participant", identity, "err", err)
			continue
		}
		frame.Timestamp = time.Since(start)

		select {
		case <-r.done:
			return
		default:
		}
		r.mu.Lock()
		if cur, ok := r.inputs[identity]; ok && cur == ch {
			select {
			case ch <- frame:
			default:
				// Full; drop rather than let the RTP buffer back up.
			}
		}
		r.mu.Unlock()
	}
}

// openInput registers a fresh stream for identity, replacing a stale one.
func (r *Room) openInput(identity string) (chan audio.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return nil, false
	default:
	}
	if old, ok := r.inputs[identity]; ok {
		close(old)
	}
	ch := make(chan audio.Frame, inputChannelBuffer)
	r.inputs[identity] = ch
	return ch, true
}

// closeInput closes the stream for identity. A non-nil owned limits this to
// that stream, so a consumer replaced by a newer track leaves it alone.
func (r *Room) closeInput(identity, name string, owned chan audio.Frame) {
	r.mu.Lock()
	ch, ok := r.inputs[identity]
	if ok && owned != nil && ch != owned {
		ok = false
	}
	if ok {
		close(ch)
		delete(r.inputs, identity)
	}
	r.mu.Unlock()
	if ok {
		r.emit(room.Event{Type: room.EventLeave, ParticipantID: identity, Name: name})
	}
}

func (r *Room) emit(ev room.Event) {
	r.changeMu.Lock()
	cb := r.changeCb
	r.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
