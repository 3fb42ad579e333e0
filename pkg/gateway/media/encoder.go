// Package media turns approved reply text into carrier audio and carries it
// over the call's media stream.
package media

import "github.com/vango-go/vai-callgate/pkg/core/audio"

// Encoder converts little-endian PCM16 at inRate into 8 kHz µ-law frames of
// audio.FrameSize bytes. Chunks passed to Write may split the stream
// anywhere; Flush ends the utterance. It is not safe for concurrent use.
type Encoder struct {
	gain  float64
	dec   *audio.Decimator
	pk    *audio.Packetizer
	carry []byte
}

func NewEncoder(inRate int, gain float64) *Encoder {
	if inRate <= 0 {
		inRate = audio.TelephonyRateHz
	}
	return &Encoder{
		gain: gain,
		dec:  audio.NewDecimator(inRate, audio.TelephonyRateHz),
		pk:   audio.NewPacketizer(audio.FrameSize),
	}
}

// Write encodes pcm and returns every complete frame. A trailing odd byte is
// held until the next Write.
func (e *Encoder) Write(pcm []byte) [][]byte {
	if len(e.carry) > 0 {
		pcm = append(e.carry, pcm...)
		e.carry = nil
	}
	if len(pcm)%2 == 1 {
		e.carry = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return nil
	}
	samples := e.dec.Process(audio.DecodePCM16LE(pcm))
	audio.ApplyGain(samples, e.gain)
	return e.pk.Add(audio.PCMToMuLaw(samples))
}

// Flush returns the final partial frame padded with µ-law silence, or nil.
func (e *Encoder) Flush() []byte {
	e.carry = nil
	e.dec.Reset()
	return e.pk.Flush(audio.MuLawSilence)
}

// Encode is Write followed by Flush for a complete utterance.
func (e *Encoder) Encode(pcm []byte) [][]byte {
	frames := e.Write(pcm)
	if last := e.Flush(); last != nil {
		frames = append(frames, last)
	}
	return frames
}
