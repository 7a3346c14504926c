// Package audio holds the PCM frame type shared by rooms, voice activity
// detection and the provider adapters, together with format conversion and
// the Opus codec used by the room transports.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// there is more than one channel.
package audio

import "time"

// Frame is a chunk of PCM audio flowing through a session.
type Frame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (48000 for room transports, 16000 for VAD and STT).
	SampleRate int

	// Channels is 1 for mono or 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the sample rate and channel count of f.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of f.
func (f Frame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Common formats.
var (
	// Opus48kStereo is what room transports send and receive.
	Opus48kStereo = Format{SampleRate: 48000, Channels: 2}

	// Speech16kMono is what VAD and speech recognition consume.
	Speech16kMono = Format{SampleRate: 16000, Channels: 1}
)

// BytesPerSample returns the size of one multi-channel sample.
func (f Format) BytesPerSample() int { return 2 * f.Channels }

// Bytes returns the PCM size of d in format f.
func (f Format) Bytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.BytesPerSample()
}

// Duration returns the playback length of n PCM bytes in format f.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / f.BytesPerSample()
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
