package clientcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s != Defaults() {
		t.Errorf("settings = %+v, want defaults", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "funk.yaml")

	s := Defaults()
	s.ServerIP = "10.1.2.3"
	s.Channel = 55
	s.FunkKey = "0123456789abcdef"
	s.HotkeyPrimary = "mouse4"
	s.Channel1Target = 52
	s.NoiseGateThreshold = -35.5

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funk.yaml")
	os.WriteFile(path, []byte("{not yaml"), 0600)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed settings file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"primary cannot be 41", func(s *Settings) { s.Channel = SecondaryChannel }},
		{"channel out of range", func(s *Settings) { s.Channel = 300 }},
		{"bad server port", func(s *Settings) { s.ServerPort = 0 }},
		{"bad api port", func(s *Settings) { s.APIPort = 70000 }},
		{"volume out of range", func(s *Settings) { s.SoundVolume = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFullChannelPlan(t *testing.T) {
	plan := FullChannelPlan()
	if len(plan) != 22 {
		t.Fatalf("plan size = %d, want 22", len(plan))
	}
	if plan[0] != 41 || plan[2] != 43 || plan[3] != 51 || plan[21] != 69 {
		t.Errorf("plan = %v, want 41-43 then 51-69", plan)
	}
}

func TestAddrHelpers(t *testing.T) {
	s := Defaults()
	s.ServerIP = "198.51.100.7"
	if s.RelayAddr() != "198.51.100.7:9999" {
		t.Errorf("RelayAddr = %q", s.RelayAddr())
	}
	if s.APIBase() != "http://198.51.100.7:8080" {
		t.Errorf("APIBase = %q", s.APIBase())
	}
}
