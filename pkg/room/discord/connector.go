// Package discord provides a [room.Connector] backed by Discord guild voice
// channels via the bwmarrin/discordgo library. A room name is the ID of the
// voice channel to join.
//
// Each call to [Connector.Connect] joins the channel and returns a [Room]
// that demuxes per-speaker Opus input into PCM frames and encodes assistant
// output back to Opus.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/room"
)

var _ room.Connector = (*Connector)(nil)

// Connector implements [room.Connector] for one guild.
//
// Connector is safe for concurrent use.
type Connector struct {
	session *discordgo.Session
	guildID string
	owned   bool
}

// New creates a Connector that joins voice channels of guildID using an
// already-open session owned by the caller.
func New(session *discordgo.Session, guildID string) *Connector {
	return &Connector{session: session, guildID: guildID}
}

// Open creates a bot session from token, opens the gateway connection and
// returns a Connector that owns it. Call [Connector.Close] to release it.
func Open(token, guildID string) (*Connector, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	return &Connector{session: s, guildID: guildID, owned: true}, nil
}

// Connect joins the voice channel whose ID is name.
func (c *Connector) Connect(ctx context.Context, name string) (room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mute=false (we send audio), deaf=false (we receive audio).
	vc, err := c.session.ChannelVoiceJoin(c.guildID, name, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", name, err)
	}

	r, err := newRoom(vc, c.session, c.guildID, name)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: create room: %w", err)
	}
	return r, nil
}

// Close closes the gateway session if the Connector opened it.
func (c *Connector) Close() error {
	if !c.owned {
		return nil
	}
	return c.session.Close()
}
