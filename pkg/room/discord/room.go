package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/room"
)

var _ room.Room = (*Room)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64

	// Discord always carries stereo Opus.
	discordChannels = 2
)

// Room wraps a discordgo.VoiceConnection. Incoming Opus packets are demuxed
// by SSRC into per-speaker PCM streams; the stream key is the Discord user
// ID once a speaking update has revealed it, the SSRC otherwise.
//
// Room is safe for concurrent use.
type Room struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string
	name    string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.Frame
	ssrcUser map[uint32]string

	output chan audio.Frame

	changeMu sync.Mutex
	changeCb func(room.Event)

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	removeHandler func()

	// disconnectVC tears down the voice connection; overridden in tests.
	disconnectVC func() error
}

func newRoom(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, name string) (*Room, error) {
	r := &Room{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		name:         name,
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	r.removeHandler = session.AddHandler(r.handleVoiceStateUpdate)
	vc.AddHandler(r.handleSpeakingUpdate)

	go r.recvLoop()
	go r.sendLoop()
	return r, nil
}

// Name implements [room.Room]; it is the voice channel ID.
func (r *Room) Name() string { return r.name }

// InputStreams implements [room.Room].
func (r *Room) InputStreams() map[string]<-chan audio.Frame {
	r.inputsMu.RLock()
	defer r.inputsMu.RUnlock()
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
	r.shutdown()
	return r.closeErr
}

func (r *Room) shutdown() {
	r.closeOnce.Do(func() {
		close(r.done)
		if r.removeHandler != nil {
			r.removeHandler()
		}
		if r.disconnectVC != nil {
			r.closeErr = r.disconnectVC()
		}
		r.inputsMu.Lock()
		for id, ch := range r.inputs {
			close(ch)
			delete(r.inputs, id)
		}
		r.inputsMu.Unlock()
	})
}

// streamKey returns the participant ID for ssrc.
func (r *Room) streamKey(ssrc uint32) string {
	r.inputsMu.RLock()
	defer r.inputsMu.RUnlock()
	if id, ok := r.ssrcUser[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// recvLoop decodes Opus packets per SSRC and delivers PCM frames to the
// matching participant stream. The room ends when OpusRecv closes.
func (r *Room) recvLoop() {
	decoders := make(map[uint32]*audio.OpusDecoder)

	for {
		select {
		case <-r.done:
			return
		case pkt, ok := <-r.vc.OpusRecv:
			if !ok {
				r.shutdown()
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = audio.NewOpusDecoder(discordChannels)
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			frame, err := dec.Decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			frame.Timestamp = time.Duration(pkt.Timestamp) * time.Second / audio.OpusSampleRate

			key := r.streamKey(pkt.SSRC)
			if r.deliver(key, frame) {
				r.emit(room.Event{Type: room.EventJoin, ParticipantID: key})
			}
		}
	}
}

// deliver hands frame to the stream for key, opening the stream if needed,
// and reports whether it was opened. The send happens under inputsMu so a
// concurrent leave or shutdown cannot close the channel mid-send.
func (r *Room) deliver(key string, frame audio.Frame) (opened bool) {
	r.inputsMu.Lock()
	defer r.inputsMu.Unlock()
	select {
	case <-r.done:
		return false
	default:
	}
	ch, ok := r.inputs[key]
	if !ok {
		ch = make(chan audio.Frame, inputChannelBuffer)
		r.inputs[key] = ch
	}
	select {
	case ch <- frame:
	default:
		// Full; drop rather than stall the shared receive loop.
	}
	return !ok
}

// sendLoop converts assistant frames to 48 kHz stereo, cuts them into
// 20 ms Opus frames and sends them on the voice connection.
func (r *Room) sendLoop() {
	enc, err := audio.NewOpusEncoder(discordChannels)
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "err", err)
		return
	}
	conv := audio.Converter{Target: audio.Opus48kStereo}
	framer := audio.NewFramer(enc.FrameBytes())
	speaking := false

	for {
		select {
		case <-r.done:
			if speaking {
				r.setSpeaking(false)
			}
			return
		case frame := <-r.output:
			if !speaking {
				r.setSpeaking(true)
				speaking = true
			}
			for _, pcm := range framer.Write(conv.Convert(frame).Data) {
				packet, err := enc.Encode(pcm)
				if err != nil {
					slog.Warn("discord: opus encode error", "err", err)
					continue
				}
				select {
				case r.vc.OpusSend <- packet:
				case <-r.done:
					return
				}
			}
		}
	}
}

// handleSpeakingUpdate learns which user owns an SSRC so later streams can
// be keyed by user ID.
func (r *Room) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	r.inputsMu.Lock()
	r.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	r.inputsMu.Unlock()
}

// handleVoiceStateUpdate emits leave events for users leaving our channel
// and closes their stream.
func (r *Room) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != r.guildID {
		return
	}
	left := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == r.name && vsu.ChannelID != r.name
	if !left {
		return
	}

	r.inputsMu.Lock()
	if ch, ok := r.inputs[vsu.UserID]; ok {
		close(ch)
		delete(r.inputs, vsu.UserID)
	}
	r.inputsMu.Unlock()

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}
	r.emit(room.Event{Type: room.EventLeave, ParticipantID: vsu.UserID, Name: username})
}

func (r *Room) setSpeaking(b bool) {
	if err := r.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
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
