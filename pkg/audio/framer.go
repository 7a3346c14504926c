package audio

// Framer re-chunks a PCM byte stream into fixed-size frames, as required by
// Opus encoders and window-based voice activity detectors.
// It is not safe for concurrent use.
type Framer struct {
	size int
	buf  []byte
}

// NewFramer returns a Framer emitting frames of exactly size bytes.
func NewFramer(size int) *Framer {
	return &Framer{size: size}
}

// Size returns the frame size in bytes.
func (f *Framer) Size() int { return f.size }

// Write appends pcm and returns every complete frame now available. The
// returned slices do not alias pcm or each other.
func (f *Framer) Write(pcm []byte) [][]byte {
	f.buf = append(f.buf, pcm...)
	var frames [][]byte
	for len(f.buf) >= f.size {
		frame := make([]byte, f.size)
		copy(frame, f.buf[:f.size])
		frames = append(frames, frame)
		f.buf = f.buf[f.size:]
	}
	return frames
}

// Flush returns the buffered remainder padded with silence to a full frame,
// or nil when nothing is buffered.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	frame := make([]byte, f.size)
	copy(frame, f.buf)
	f.buf = f.buf[:0]
	return frame
}

// Reset discards buffered bytes.
func (f *Framer) Reset() { f.buf = f.buf[:0] }

// Buffered returns the number of bytes waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.buf) }
