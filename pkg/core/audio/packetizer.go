package audio

// FrameSize is 20 ms of 8 kHz µ-law audio.
const FrameSize = 160

// Packetizer slices an irregular stream of encoded bytes into frames of a
// fixed size. It is not safe for concurrent use; each outbound stream owns one.
type Packetizer struct {
	frameSize int
	buf       []byte
}

// NewPacketizer returns a Packetizer emitting frames of frameSize bytes.
// A non-positive size selects FrameSize.
func NewPacketizer(frameSize int) *Packetizer {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &Packetizer{frameSize: frameSize, buf: make([]byte, 0, frameSize*2)}
}

// FrameSize reports the configured frame length.
func (p *Packetizer) FrameSize() int { return p.frameSize }

// Add appends chunk and returns every complete frame now available. Bytes
// short of a full frame stay buffered for the next call.
func (p *Packetizer) Add(chunk []byte) [][]byte {
	p.buf = append(p.buf, chunk...)
	if len(p.buf) < p.frameSize {
		return nil
	}
	frames := make([][]byte, 0, len(p.buf)/p.frameSize)
	off := 0
	for len(p.buf)-off >= p.frameSize {
		frame := make([]byte, p.frameSize)
		copy(frame, p.buf[off:off+p.frameSize])
		frames = append(frames, frame)
		off += p.frameSize
	}
	rest := copy(p.buf, p.buf[off:])
	p.buf = p.buf[:rest]
	return frames
}

// Buffered reports how many bytes are waiting for a full frame.
func (p *Packetizer) Buffered() int { return len(p.buf) }

// Flush pads any buffered remainder with pad up to one full frame and returns
// it. It returns nil when nothing is buffered.
func (p *Packetizer) Flush(pad byte) []byte {
	if len(p.buf) == 0 {
		return nil
	}
	frame := make([]byte, p.frameSize)
	n := copy(frame, p.buf)
	for i := n; i < len(frame); i++ {
		frame[i] = pad
	}
	p.buf = p.buf[:0]
	return frame
}

// Clear discards buffered bytes.
func (p *Packetizer) Clear() {
	p.buf = p.buf[:0]
}
