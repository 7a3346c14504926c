package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/room"
)

// opusSilence is a valid 20 ms Opus silence frame.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// newTestRoom creates a Room wired to fake OpusSend/OpusRecv channels
// without a real voice connection.
func newTestRoom(t *testing.T) *Room {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		ChannelID: "chan-1",
		OpusSend:  make(chan []byte, 16),
		OpusRecv:  make(chan *discordgo.Packet, 16),
	}
	r := &Room{
		vc:           vc,
		session:      &discordgo.Session{},
		guildID:      "guild-test",
		name:         "chan-1",
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	go r.recvLoop()
	go r.sendLoop()
	t.Cleanup(func() { _ = r.Disconnect() })
	return r
}

func TestNew(t *testing.T) {
	t.Parallel()
	s := &discordgo.Session{}
	c := New(s, "guild-123")
	if c.session != s || c.guildID != "guild-123" {
		t.Errorf("New stored %+v", c)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on a borrowed session: %v", err)
	}
}

func TestRoom_DisconnectIdempotent(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)
	for i := range 3 {
		if err := r.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: %v", i, err)
		}
	}
	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed after Disconnect")
	}
}

func TestRoom_RecvDemux(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)

	joined := make(chan room.Event, 4)
	r.OnParticipantChange(func(ev room.Event) { joined <- ev })

	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: opusSilence}
	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: opusSilence}

	for range 2 {
		select {
		case ev := <-joined:
			if ev.Type != room.EventJoin {
				t.Errorf("event type = %v, want JOIN", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for join event")
		}
	}

	streams := r.InputStreams()
	if len(streams) != 2 {
		t.Fatalf("InputStreams: want 2 entries, got %d", len(streams))
	}
	for id, ch := range streams {
		select {
		case frame := <-ch:
			if frame.Format() != audio.Opus48kStereo {
				t.Errorf("%s: format = %v", id, frame.Format())
			}
			if len(frame.Data) == 0 {
				t.Errorf("%s: empty frame", id)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for frame", id)
		}
	}
}

func TestRoom_SpeakingUpdateKeysByUser(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)
	r.handleSpeakingUpdate(r.vc, &discordgo.VoiceSpeakingUpdate{UserID: "user-7", SSRC: 300})

	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 300, Opus: opusSilence}

	deadline := time.After(time.Second)
	for {
		if _, ok := r.InputStreams()["user-7"]; ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("stream not keyed by user ID; streams = %v", r.InputStreams())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRoom_LeaveClosesStream(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)
	r.handleSpeakingUpdate(r.vc, &discordgo.VoiceSpeakingUpdate{UserID: "user-1", SSRC: 1})
	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 1, Opus: opusSilence}

	var ch <-chan audio.Frame
	deadline := time.After(time.Second)
	for ch == nil {
		ch = r.InputStreams()["user-1"]
		if ch == nil {
			select {
			case <-deadline:
				t.Fatal("stream never appeared")
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	r.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "guild-test", UserID: "user-1", ChannelID: ""},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "chan-1"},
	})

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream not closed after leave")
		}
	}
}

func TestRoom_SendEncodes(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)

	// 20 ms of 16 kHz mono is converted to one 20 ms 48 kHz stereo frame.
	r.OutputStream() <- audio.Frame{
		Data:       make([]byte, audio.Speech16kMono.Bytes(20*time.Millisecond)),
		SampleRate: 16000,
		Channels:   1,
	}

	select {
	case packet := <-r.vc.OpusSend:
		if len(packet) == 0 {
			t.Error("received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet")
	}
}

func TestRoom_RecvCloseEndsRoom(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)
	close(r.vc.OpusRecv)
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("room not done after OpusRecv closed")
	}
}

func TestRoom_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() { _ = r.Disconnect() })
	}
	wg.Wait()
}

func TestRoom_LeaveWhileDelivering(t *testing.T) {
	t.Parallel()
	r := newTestRoom(t)
	frame := audio.Frame{Data: make([]byte, 8), SampleRate: audio.OpusSampleRate, Channels: discordChannels}
	leave := &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "guild-test", UserID: "user-1"},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "chan-1"},
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 2000 {
			r.deliver("user-1", frame)
		}
	})
	wg.Go(func() {
		for range 200 {
			r.handleVoiceStateUpdate(nil, leave)
		}
		_ = r.Disconnect()
	})
	wg.Wait()

	if r.deliver("user-1", frame) {
		t.Error("deliver opened a stream on a disconnected room")
	}
	if n := len(r.InputStreams()); n != 0 {
		t.Errorf("InputStreams after Disconnect = %d entries, want 0", n)
	}
}
