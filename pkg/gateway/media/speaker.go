package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-go/vai-callgate/pkg/core/voice/tts"
	"github.com/vango-go/vai-callgate/pkg/gateway/metrics"
	"github.com/vango-go/vai-callgate/pkg/gateway/speech"
)

var ErrNoSynthesizer = errors.New("media: no synthesizer configured")

// Speaker renders approved reply text to carrier frames in a caller's voice
// profile.
type Speaker struct {
	synth      tts.Synthesizer
	voices     *speech.VoiceSelector
	sampleRate int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type SpeakerOption func(*Speaker)

// WithSampleRate sets the rate requested from the synthesizer.
func WithSampleRate(hz int) SpeakerOption {
	return func(s *Speaker) {
		if hz > 0 {
			s.sampleRate = hz
		}
	}
}

func WithMetrics(m *metrics.Metrics) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) SpeakerOption {
	return func(s *Speaker) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSpeaker returns a Speaker. A nil synth is allowed; Render then fails
// with ErrNoSynthesizer.
func NewSpeaker(synth tts.Synthesizer, voices *speech.VoiceSelector, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		synth:      synth,
		voices:     voices,
		sampleRate: 24000,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Speaker) Enabled() bool { return s != nil && s.synth != nil }

// Render synthesizes text with the named profile (empty selects the current
// default) and returns padded µ-law frames. Text that fails the speech
// vocabulary check is refused.
func (s *Speaker) Render(ctx context.Context, text, profileID string) ([][]byte, error) {
	if text == "" {
		return nil, nil
	}
	if !s.Enabled() {
		return nil, ErrNoSynthesizer
	}
	if err := speech.Check(text); err != nil {
		return nil, err
	}

	var profile speech.Profile
	if s.voices != nil {
		profile = s.voices.Lookup(profileID)
	}

	start := time.Now()
	syn, err := s.synth.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:      profile.VoiceID,
		Speed:      profile.Speed,
		Language:   profile.Language,
		SampleRate: s.sampleRate,
	})
	if s.metrics != nil {
		s.metrics.SynthesisSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("synthesize with %s: %w", s.synth.Name(), err)
	}
	if syn == nil || len(syn.PCM) == 0 {
		return nil, nil
	}

	rate := syn.SampleRate
	if rate <= 0 {
		rate = s.sampleRate
	}
	frames := NewEncoder(rate, profile.Gain).Encode(syn.PCM)
	s.logger.Debug("reply rendered", "profile", profile.ID, "frames", len(frames), "duration_ms", time.Since(start).Milliseconds())
	return frames, nil
}
