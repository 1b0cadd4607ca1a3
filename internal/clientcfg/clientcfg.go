// Package clientcfg loads and persists the funk client's local settings
// file (YAML). Missing fields fall back to defaults, and the file is
// rewritten on save so upgrades pick up new options.
package clientcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SecondaryChannel is the convention-defined emergency/common channel.
// Every client authenticates it in parallel with its primary channel and
// it can never be selected as primary.
const SecondaryChannel = 41

// FullChannelPlan returns the complete channel plan (41-43 public,
// 51-69 restricted), the fallback when the bootstrap endpoint is
// unreachable.
func FullChannelPlan() []int {
	plan := []int{41, 42, 43}
	for c := 51; c <= 69; c++ {
		plan = append(plan, c)
	}
	return plan
}

// Settings are the persisted client options.
type Settings struct {
	ServerIP   string `yaml:"server_ip"`
	ServerPort int    `yaml:"server_port"`
	APIPort    int    `yaml:"api_port"`

	// Channel is the primary channel. Channel 41 is reserved as the
	// always-on secondary and is rejected here.
	Channel int `yaml:"channel"`

	HotkeyPrimary   string `yaml:"hotkey_primary"`
	HotkeySecondary string `yaml:"hotkey_secondary"`
	HotkeyChannel1  string `yaml:"hotkey_channel1"`
	HotkeyChannel2  string `yaml:"hotkey_channel2"`
	Channel1Target  int    `yaml:"channel1_target"`
	Channel2Target  int    `yaml:"channel2_target"`

	MicDevice     string `yaml:"mic_device"`
	SpeakerDevice string `yaml:"speaker_device"`

	FunkKey string `yaml:"funk_key"`

	NoiseGateEnabled   bool    `yaml:"noise_gate_enabled"`
	NoiseGateThreshold float64 `yaml:"noise_gate_threshold"` // dBFS

	SoundsEnabled bool    `yaml:"sounds_enabled"`
	SoundVolume   float64 `yaml:"sound_volume"` // 0..1
}

// Defaults returns the settings used when no file exists yet.
func Defaults() Settings {
	return Settings{
		ServerIP:           "127.0.0.1",
		ServerPort:         9999,
		APIPort:            8080,
		Channel:            42,
		HotkeyPrimary:      "f8",
		HotkeySecondary:    "f9",
		NoiseGateEnabled:   true,
		NoiseGateThreshold: -40.0,
		SoundsEnabled:      true,
		SoundVolume:        0.7,
	}
}

// Load reads settings from path. A missing file yields Defaults without
// error; a malformed file is an error.
func Load(path string) (Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("reading settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Defaults(), fmt.Errorf("parsing settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Defaults(), err
	}
	return s, nil
}

// Save writes the settings to path, creating parent directories.
func (s Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating settings directory: %w", err)
		}
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// Validate checks invariants the rest of the client relies on.
func (s Settings) Validate() error {
	if s.Channel == SecondaryChannel {
		return fmt.Errorf("channel %d is the reserved secondary channel and cannot be primary", SecondaryChannel)
	}
	if s.Channel < 0 || s.Channel > 255 {
		return fmt.Errorf("channel must be in 0..255, got %d", s.Channel)
	}
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		return fmt.Errorf("server_port must be in 1..65535, got %d", s.ServerPort)
	}
	if s.APIPort < 1 || s.APIPort > 65535 {
		return fmt.Errorf("api_port must be in 1..65535, got %d", s.APIPort)
	}
	if s.SoundVolume < 0 || s.SoundVolume > 1 {
		return fmt.Errorf("sound_volume must be in 0..1, got %v", s.SoundVolume)
	}
	return nil
}

// RelayAddr returns the host:port of the UDP relay.
func (s Settings) RelayAddr() string {
	return fmt.Sprintf("%s:%d", s.ServerIP, s.ServerPort)
}

// APIBase returns the base URL of the control plane.
func (s Settings) APIBase() string {
	return fmt.Sprintf("http://%s:%d", s.ServerIP, s.APIPort)
}
