package livekit

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/parley/pkg/audio"
)

// flushAfter is how long the provider waits for more audio before padding
// and sending a partial trailing frame.
const flushAfter = 60 * time.Millisecond

// sampleProvider feeds the assistant's local track. It converts frames from
// the room output to 48 kHz mono, cuts them into 20 ms frames and encodes
// each as one Opus sample.
type sampleProvider struct {
	in   <-chan audio.Frame
	done <-chan struct{}

	conv    audio.Converter
	framer  *audio.Framer
	enc     *audio.OpusEncoder
	pending [][]byte
}

func newSampleProvider(in <-chan audio.Frame, done <-chan struct{}) (*sampleProvider, error) {
	enc, err := audio.NewOpusEncoder(trackChannels)
	if err != nil {
		return nil, err
	}
	return &sampleProvider{
		in:     in,
		done:   done,
		conv:   audio.Converter{Target: audio.Format{SampleRate: audio.OpusSampleRate, Channels: trackChannels}},
		framer: audio.NewFramer(enc.FrameBytes()),
		enc:    enc,
	}, nil
}

// NextSample blocks until one encoded 20 ms frame is available.
func (p *sampleProvider) NextSample(ctx context.Context) (media.Sample, error) {
	for len(p.pending) == 0 {
		var flush <-chan time.Time
		if p.framer.Buffered() > 0 {
			flush = time.After(flushAfter)
		}
		select {
		case <-ctx.Done():
			return media.Sample{}, ctx.Err()
		case <-p.done:
			return media.Sample{}, io.EOF
		case frame := <-p.in:
			for _, pcm := range p.framer.Write(p.conv.Convert(frame).Data) {
				p.encode(pcm)
			}
		case <-flush:
			if pcm := p.framer.Flush(); pcm != nil {
				p.encode(pcm)
			}
		}
	}
	packet := p.pending[0]
	p.pending = p.pending[1:]
	return media.Sample{Data: packet, Duration: audio.OpusFrameDuration}, nil
}

func (p *sampleProvider) encode(pcm []byte) {
	packet, err := p.enc.Encode(pcm)
	if err != nil {
		slog.Warn("livekit: opus encode error", "err", err)
		return
	}
	p.pending = append(p.pending, packet)
}

func (p *sampleProvider) OnBind() error   { return nil }
func (p *sampleProvider) OnUnbind() error { return nil }
func (p *sampleProvider) Close() error    { return nil }
