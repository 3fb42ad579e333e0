// Package audio converts synthesized linear PCM into G.711 µ-law telephony
// frames. Everything here is CPU-only and free of side effects.
package audio

import "encoding/binary"

const (
	// TelephonyRateHz is the sample rate of the carrier audio path.
	TelephonyRateHz = 8000

	muLawBias = 0x84
	muLawClip = 32635

	// MuLawSilence is the encoding of a zero sample.
	MuLawSilence byte = 0xFF
)

// muLawExponent maps bits 7..14 of a biased magnitude to its segment number.
var muLawExponent = func() [256]byte {
	var t [256]byte
	for i := 2; i < 256; i++ {
		v, e := i, byte(0)
		for v > 1 {
			v >>= 1
			e++
		}
		t[i] = e
	}
	return t
}()

// Downsample decimates samples from inRate to outRate by nearest-neighbor
// selection: output sample i is input sample floor(i*ratio).
//
// There is no interpolation and no anti-alias filter. Speech synthesized for
// the phone already carries little energy above 4 kHz, and decimation keeps
// per-chunk latency at zero, so the aliasing is accepted.
func Downsample(samples []int16, inRate, outRate int) []int16 {
	if inRate <= 0 || outRate <= 0 || len(samples) == 0 {
		return nil
	}
	if inRate == outRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	return NewDecimator(inRate, outRate).Process(samples)
}

// Decimator is Downsample over a stream of chunks. It keeps the input
// position between calls, so splitting a stream at any sample boundary
// yields the same output as decimating it whole.
type Decimator struct {
	inRate, outRate int64

	buf      []int16
	base     int64 // stream index of buf[0]
	produced int64
}

func NewDecimator(inRate, outRate int) *Decimator {
	return &Decimator{inRate: int64(inRate), outRate: int64(outRate)}
}

// Process returns the output samples that samples completes. After n input
// samples in total, exactly floor(n*outRate/inRate) have been returned.
func (d *Decimator) Process(samples []int16) []int16 {
	if d.inRate <= 0 || d.outRate <= 0 || len(samples) == 0 {
		return nil
	}
	d.buf = append(d.buf, samples...)
	total := d.base + int64(len(d.buf))
	var out []int16
	for (d.produced+1)*d.inRate <= total*d.outRate {
		out = append(out, d.buf[d.produced*d.inRate/d.outRate-d.base])
		d.produced++
	}
	// Samples before the next pick are never read again.
	if drop := min(d.produced*d.inRate/d.outRate-d.base, int64(len(d.buf))); drop > 0 {
		d.buf = append(d.buf[:0], d.buf[drop:]...)
		d.base += drop
	}
	return out
}

// Reset starts a new stream.
func (d *Decimator) Reset() {
	d.buf = d.buf[:0]
	d.base = 0
	d.produced = 0
}

// Clamp16Bit bounds x to the signed 16-bit range.
func Clamp16Bit(x int32) int16 {
	if x > 32767 {
		return 32767
	}
	if x < -32768 {
		return -32768
	}
	return int16(x)
}

// ApplyGain scales samples in place, clamping instead of wrapping on overflow.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1 || gain <= 0 {
		return
	}
	for i, s := range samples {
		samples[i] = Clamp16Bit(int32(float64(s) * gain))
	}
}

// MuLawEncode encodes one linear sample per the G.711 segment/bias algorithm.
func MuLawEncode(sample int16) byte {
	s := int32(sample)
	sign := byte((s >> 8) & 0x80)
	if sign != 0 {
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias
	exponent := muLawExponent[(s>>7)&0xFF]
	mantissa := byte((s >> (int32(exponent) + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// PCMToMuLaw encodes samples, one output byte per input sample.
func PCMToMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MuLawEncode(s)
	}
	return out
}

// DecodePCM16LE reads little-endian signed 16-bit samples. A trailing odd
// byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
