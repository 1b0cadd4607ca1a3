package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RelayPort != defaultRelayPort {
		t.Errorf("RelayPort = %d, want %d", cfg.RelayPort, defaultRelayPort)
	}
	if cfg.APIPort != defaultAPIPort {
		t.Errorf("APIPort = %d, want %d", cfg.APIPort, defaultAPIPort)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log config = %s/%s, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{"-relay-port", "7000", "-api-port", "7001", "-log-level", "DEBUG"})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RelayPort != 7000 || cfg.APIPort != 7001 {
		t.Errorf("ports = %d/%d, want 7000/7001", cfg.RelayPort, cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased debug", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FUNKD_RELAY_PORT", "7100")
	t.Setenv("FUNKD_LOG_FORMAT", "json")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RelayPort != 7100 {
		t.Errorf("RelayPort = %d, want env override 7100", cfg.RelayPort)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestFlagBeatsEnv(t *testing.T) {
	t.Setenv("FUNKD_RELAY_PORT", "7100")
	cfg, err := Load([]string{"-relay-port", "7200"})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RelayPort != 7200 {
		t.Errorf("RelayPort = %d, want flag value 7200", cfg.RelayPort)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"relay port too high", []string{"-relay-port", "70000"}},
		{"api port zero", []string{"-api-port", "0"}},
		{"port collision", []string{"-relay-port", "8080", "-api-port", "8080"}},
		{"bad log level", []string{"-log-level", "verbose"}},
		{"bad log format", []string{"-log-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.args); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJWTSecretBytes(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("JWTSecretBytes() error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("generated key length = %d, want 32", len(key))
	}
	if cfg.JWTSecret == "" {
		t.Error("generated secret not stored back on config")
	}

	cfg = &Config{JWTSecret: "zz"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for non-hex secret")
	}

	cfg = &Config{JWTSecret: "00112233"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for short secret")
	}
}
