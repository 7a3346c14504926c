package audio

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// Room transports carry 48 kHz Opus in 20 ms frames.
const (
	OpusSampleRate = 48000
	OpusFrameMs    = 20

	// OpusFrameSamples is the number of samples per channel in one frame.
	OpusFrameSamples = OpusSampleRate * OpusFrameMs / 1000 // 960

	// OpusFrameDuration is the playback length of one frame.
	OpusFrameDuration = OpusFrameMs * time.Millisecond
)

// OpusFrameBytes returns the PCM size of one Opus frame with the given
// channel count.
func OpusFrameBytes(channels int) int {
	return OpusFrameSamples * channels * 2
}

// OpusDecoder decodes one remote participant's Opus stream. Each stream
// needs its own decoder because Opus decoding is stateful.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates a 48 kHz decoder producing channels-channel PCM.
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode decodes one Opus packet into a PCM frame.
func (d *OpusDecoder) Decode(packet []byte) (Frame, error) {
	pcm, err := d.dec.Decode(packet, OpusFrameSamples, false)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Frame{
		Data:       Int16sToBytes(pcm),
		SampleRate: OpusSampleRate,
		Channels:   d.channels,
	}, nil
}

// OpusEncoder encodes 20 ms PCM frames for transmission.
type OpusEncoder struct {
	enc      *gopus.Encoder
	channels int
}

// NewOpusEncoder creates a 48 kHz voice encoder for channels-channel PCM.
func NewOpusEncoder(channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, channels: channels}, nil
}

// FrameBytes returns the exact PCM input size Encode expects.
func (e *OpusEncoder) FrameBytes() int { return OpusFrameBytes(e.channels) }

// Encode encodes exactly one frame of PCM (see [OpusEncoder.FrameBytes]).
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != e.FrameBytes() {
		return nil, fmt.Errorf("audio: opus encode: got %d bytes, want %d", len(pcm), e.FrameBytes())
	}
	packet, err := e.enc.Encode(BytesToInt16s(pcm), OpusFrameSamples, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}
