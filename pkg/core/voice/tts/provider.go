// Package tts turns approved caller-facing text into linear PCM.
package tts

import "context"

// Synthesizer renders text to raw little-endian signed 16-bit mono PCM.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio at the requested sample rate.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // Provider voice identifier
	Speed      float64 // Speed multiplier (0.6-1.5, default 1.0)
	Language   string  // Language code
	SampleRate int     // Output sample rate in Hz
}

// Synthesis is raw PCM s16le audio.
type Synthesis struct {
	PCM        []byte
	SampleRate int
}
