package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v2"
)

// VoiceProfile binds a named caller-facing voice to a synthesizer voice.
type VoiceProfile struct {
	VoiceID  string  `yaml:"voice_id" json:"voice_id"`
	Language string  `yaml:"language" json:"language"`
	Speed    float64 `yaml:"speed" json:"speed"`
	Gain     float64 `yaml:"gain" json:"gain"`
}

// File is the optional on-disk overlay for settings that do not fit in env vars.
type File struct {
	DefaultVoiceProfile string                  `yaml:"default_voice_profile" json:"default_voice_profile"`
	VoiceProfiles       map[string]VoiceProfile `yaml:"voice_profiles" json:"voice_profiles"`
}

// LoadFile reads a YAML or JSON overlay. The extension picks the format;
// anything else is tried as YAML, then JSON.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}

	var f File
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("parse json config: %w", err)
		}
		return f, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("parse yaml config: %w", err)
		}
		return f, nil
	}

	if err := yaml.Unmarshal(data, &f); err == nil {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err == nil {
		return f, nil
	}
	return File{}, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
}

// ApplyFile overlays f onto cfg. Non-empty file values replace env values.
func (cfg *Config) ApplyFile(f File) {
	if f.DefaultVoiceProfile != "" {
		cfg.VoiceProfile = f.DefaultVoiceProfile
	}
	if cfg.VoiceProfiles == nil {
		cfg.VoiceProfiles = make(map[string]VoiceProfile, len(f.VoiceProfiles))
	}
	for id, p := range f.VoiceProfiles {
		cfg.VoiceProfiles[id] = p
	}
}
