package speech

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownProfile = errors.New("speech: unknown voice profile")

// Profile is a named voice identity. VoiceID is passed to the synthesizer;
// empty means the synthesizer's default voice.
type Profile struct {
	ID       string  `json:"id"`
	VoiceID  string  `json:"voice_id,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Gain     float64 `json:"gain,omitempty"`
}

// Built-in profile ids.
const (
	ProfileWarm  = "warm"
	ProfileCalm  = "calm"
	ProfileBrisk = "brisk"
)

func DefaultProfiles() []Profile {
	return []Profile{
		{ID: ProfileWarm, Language: "en", Speed: 1.0, Gain: 1.0},
		{ID: ProfileCalm, Language: "en", Speed: 0.9, Gain: 0.9},
		{ID: ProfileBrisk, Language: "en", Speed: 1.1, Gain: 1.0},
	}
}

// VoiceSelector holds the fixed set of profiles and the current default.
type VoiceSelector struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	current  string
}

// NewVoiceSelector builds a selector from the built-in profiles overlaid
// with extra. current must name one of the resulting profiles.
func NewVoiceSelector(current string, extra ...Profile) (*VoiceSelector, error) {
	s := &VoiceSelector{profiles: make(map[string]Profile)}
	for _, p := range DefaultProfiles() {
		s.profiles[p.ID] = p
	}
	for _, p := range extra {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("voice profile with empty id")
		}
		p.ID = id
		if base, ok := s.profiles[id]; ok {
			p = mergeProfile(base, p)
		}
		s.profiles[id] = p
	}
	if err := s.Set(current); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VoiceSelector) Get() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.current]
}

func (s *VoiceSelector) Set(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	s.current = id
	return nil
}

// Lookup returns the named profile, or the current one when id is empty or
// unknown.
func (s *VoiceSelector) Lookup(id string) Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[id]; ok {
		return p
	}
	return s.profiles[s.current]
}

func (s *VoiceSelector) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[id]
	return ok
}

func (s *VoiceSelector) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func mergeProfile(base, over Profile) Profile {
	if over.VoiceID != "" {
		base.VoiceID = over.VoiceID
	}
	if over.Language != "" {
		base.Language = over.Language
	}
	if over.Speed > 0 {
		base.Speed = over.Speed
	}
	if over.Gain > 0 {
		base.Gain = over.Gain
	}
	return base
}
