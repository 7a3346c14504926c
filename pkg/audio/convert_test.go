package audio_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := audio.BytesToInt16s(audio.MonoToStereo(audio.Int16sToBytes([]int16{100, 200, 300})))
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestMonoToStereo_TrailingByte(t *testing.T) {
	t.Parallel()
	pcm := []byte{0x64, 0x00, 0xC8, 0x00, 0xFF}
	got := audio.BytesToInt16s(audio.MonoToStereo(pcm))
	want := []int16{100, 100, 200, 200}
	if !slices.Equal(got, want) {
		t.Errorf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := audio.BytesToInt16s(audio.StereoToMono(audio.Int16sToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	want := []int16{150, -150, 32767}
	if !slices.Equal(got, want) {
		t.Errorf("StereoToMono = %v, want %v", got, want)
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		src, dst int
		wantLen  int
	}{
		{name: "same rate", in: []int16{1, 2, 3}, channels: 1, src: 48000, dst: 48000, wantLen: 3},
		{name: "mono upsample", in: []int16{1000, 2000}, channels: 1, src: 16000, dst: 48000, wantLen: 6},
		{name: "mono downsample", in: []int16{1, 2, 3, 4, 5, 6}, channels: 1, src: 48000, dst: 16000, wantLen: 2},
		{name: "stereo upsample", in: []int16{100, 200, 300, 400}, channels: 2, src: 16000, dst: 48000, wantLen: 12},
		{name: "zero source rate", in: []int16{1, 2}, channels: 1, src: 0, dst: 48000, wantLen: 2},
		{name: "negative rate", in: []int16{1, 2}, channels: 1, src: -1, dst: 48000, wantLen: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := audio.BytesToInt16s(audio.Resample(audio.Int16sToBytes(tc.in), tc.channels, tc.src, tc.dst))
			if len(out) != tc.wantLen {
				t.Fatalf("got %d samples, want %d", len(out), tc.wantLen)
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()
	out := audio.BytesToInt16s(audio.Resample(audio.Int16sToBytes([]int16{1000, 2000}), 1, 16000, 48000))
	if out[0] != 1000 {
		t.Errorf("first sample = %d, want 1000", out[0])
	}
	if out[1] <= 1000 || out[1] >= 2000 {
		t.Errorf("second sample = %d, want strictly between 1000 and 2000", out[1])
	}
	if out[len(out)-1] != 2000 {
		t.Errorf("last sample = %d, want 2000", out[len(out)-1])
	}
}

func TestConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Opus48kStereo}
	frame := audio.Frame{Data: audio.Int16sToBytes([]int16{100, 200}), SampleRate: 48000, Channels: 2}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected the same slice for a matching format")
	}
}

func TestConverter_RoomToSpeech(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Speech16kMono}
	in := make([]int16, 0, 960*2)
	for range 960 {
		in = append(in, 100, 200)
	}
	result := conv.Convert(audio.Frame{Data: audio.Int16sToBytes(in), SampleRate: 48000, Channels: 2})
	if result.Format() != audio.Speech16kMono {
		t.Fatalf("format = %v, want %v", result.Format(), audio.Speech16kMono)
	}
	got := audio.BytesToInt16s(result.Data)
	if len(got) != 320 {
		t.Fatalf("got %d samples, want 320", len(got))
	}
	if got[0] != 150 {
		t.Errorf("sample 0 = %d, want 150", got[0])
	}
	if result.Duration() != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", result.Duration())
	}
}

func TestConverter_OddByteCount(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	for _, rate := range []int{22050, 48000} {
		result := conv.Convert(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: rate, Channels: 1})
		if len(result.Data) != 0 {
			t.Errorf("rate %d: expected empty data, got %d bytes", rate, len(result.Data))
		}
		if result.SampleRate != 48000 || result.Channels != 1 {
			t.Errorf("rate %d: dropped frame should carry target format, got %v", rate, result.Format())
		}
	}
}

func TestConvertStream(t *testing.T) {
	t.Parallel()
	in := make(chan audio.Frame, 3)
	out := audio.ConvertStream(in, audio.Opus48kStereo)

	in <- audio.Frame{Data: audio.Int16sToBytes([]int16{100, 200}), SampleRate: 48000, Channels: 1}
	in <- audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1}
	in <- audio.Frame{Data: audio.Int16sToBytes([]int16{500, 600, 700, 800}), SampleRate: 48000, Channels: 2}
	close(in)

	var results []audio.Frame
	for frame := range out {
		results = append(results, frame)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(results))
	}
	if got := audio.BytesToInt16s(results[0].Data); !slices.Equal(got, []int16{100, 100, 200, 200}) {
		t.Errorf("frame 0 = %v", got)
	}
	if got := audio.BytesToInt16s(results[1].Data); !slices.Equal(got, []int16{500, 600, 700, 800}) {
		t.Errorf("frame 1 = %v", got)
	}
}

func TestFloatConversion(t *testing.T) {
	t.Parallel()
	f := audio.PCM16ToFloat32(audio.Int16sToBytes([]int16{0, 16384, -32768}))
	if f[0] != 0 || f[1] != 0.5 || f[2] != -1 {
		t.Errorf("PCM16ToFloat32 = %v", f)
	}
	back := audio.BytesToInt16s(audio.Float32ToPCM16([]float32{0, 2, -2}))
	if !slices.Equal(back, []int16{0, 32767, -32768}) {
		t.Errorf("Float32ToPCM16 = %v", back)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	if got := audio.Opus48kStereo.Bytes(20 * time.Millisecond); got != audio.OpusFrameBytes(2) {
		t.Errorf("Bytes(20ms) = %d, want %d", got, audio.OpusFrameBytes(2))
	}
	if got := audio.Speech16kMono.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
}
