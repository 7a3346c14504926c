// Package livekit provides a [room.Connector] for LiveKit rooms using the
// LiveKit server SDK. The assistant joins as an agent participant,
// auto-subscribes to every remote microphone track and publishes a single
// Opus microphone track for its own voice.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/MrWong99/parley/pkg/room"
)

var _ room.Connector = (*Connector)(nil)

// Config holds the server address and credentials.
type Config struct {
	// URL is the LiveKit websocket URL (e.g., "wss://example.livekit.cloud").
	URL string

	// APIKey and APISecret mint the participant access token.
	APIKey    string
	APISecret string

	// Identity is the participant identity of the assistant.
	Identity string

	// Name is the display name; defaults to Identity.
	Name string
}

// Connector joins LiveKit rooms.
//
// Connector is safe for concurrent use.
type Connector struct {
	cfg Config
}

// New validates cfg and returns a Connector.
func New(cfg Config) (*Connector, error) {
	var errs []error
	if cfg.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		errs = append(errs, errors.New("api key and secret are required"))
	}
	if cfg.Identity == "" {
		errs = append(errs, errors.New("identity is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("livekit: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Identity
	}
	return &Connector{cfg: cfg}, nil
}

// Connect joins the room called name and publishes the assistant's track.
func (c *Connector) Connect(ctx context.Context, name string) (room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := newRoom(name, c.cfg.Identity)
	lk, err := lksdk.ConnectToRoom(c.cfg.URL, lksdk.ConnectInfo{
		APIKey:              c.cfg.APIKey,
		APISecret:           c.cfg.APISecret,
		RoomName:            name,
		ParticipantIdentity: c.cfg.Identity,
		ParticipantName:     c.cfg.Name,
		ParticipantKind:     lksdk.ParticipantAgent,
	}, r.callback(), lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("livekit: connect to room %q: %w", name, err)
	}

	if err := r.publish(lk); err != nil {
		lk.Disconnect()
		return nil, err
	}
	slog.Info("livekit: joined room", "room", name, "identity", c.cfg.Identity)
	return r, nil
}

// publish creates the assistant's Opus track and starts feeding it from the
// room's output stream.
func (r *Room) publish(lk *lksdk.Room) error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		return fmt.Errorf("livekit: create local track: %w", err)
	}

	provider, err := newSampleProvider(r.output, r.done)
	if err != nil {
		return err
	}
	if err := track.StartWrite(provider, func() {
		slog.Debug("livekit: assistant track writer stopped", "room", r.name)
	}); err != nil {
		return fmt.Errorf("livekit: start track writer: %w", err)
	}

	if _, err := lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "assistant-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return fmt.Errorf("livekit: publish track: %w", err)
	}

	r.mu.Lock()
	r.lk = lk
	r.mu.Unlock()
	return nil
}
