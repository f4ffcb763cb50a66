package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
auth:
  token_key: "0123456789abcdef0123456789abcdef"
`

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", cfg.Addr())
	}
	if cfg.Voice.PortMin != 10000 || cfg.Voice.PortMax != 11000 {
		t.Errorf("voice port range = %d..%d, want 10000..11000", cfg.Voice.PortMin, cfg.Voice.PortMax)
	}
	if cfg.Voice.AnnounceIP != "127.0.0.1" {
		t.Errorf("announce ip = %q, want 127.0.0.1", cfg.Voice.AnnounceIP)
	}
	if !cfg.Voice.EnableUDP || !cfg.Voice.EnableTCP {
		t.Errorf("udp/tcp enablement = %v/%v, want true/true", cfg.Voice.EnableUDP, cfg.Voice.EnableTCP)
	}
	if !cfg.Voice.PreferUDP || cfg.Voice.PreferTCP {
		t.Errorf("prefer udp/tcp = %v/%v, want true/false", cfg.Voice.PreferUDP, cfg.Voice.PreferTCP)
	}
	if cfg.Voice.InitialAvailableOutgoingBitrate != 600000 {
		t.Errorf("initial bitrate = %d, want 600000", cfg.Voice.InitialAvailableOutgoingBitrate)
	}
}

func TestLoadVoiceEnvOverrides(t *testing.T) {
	t.Setenv("RTC_PORT_MIN", "20000")
	t.Setenv("RTC_PORT_MAX", "20010")
	t.Setenv("ANNOUNCE_IP", "203.0.113.7")
	t.Setenv("PREFER_UDP", "false")
	t.Setenv("PREFER_TCP", "true")

	cfg, err := Load(writeConfigFile(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Voice.PortMin != 20000 || cfg.Voice.PortMax != 20010 {
		t.Errorf("voice port range = %d..%d, want 20000..20010", cfg.Voice.PortMin, cfg.Voice.PortMax)
	}
	if cfg.Voice.AnnounceIP != "203.0.113.7" {
		t.Errorf("announce ip = %q, want 203.0.113.7", cfg.Voice.AnnounceIP)
	}
	if cfg.Voice.PreferUDP || !cfg.Voice.PreferTCP {
		t.Errorf("prefer udp/tcp = %v/%v, want false/true", cfg.Voice.PreferUDP, cfg.Voice.PreferTCP)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing_token_key",
			yaml:    "server:\n  port: 9000\n",
			wantErr: "token_key is required",
		},
		{
			name:    "unknown_key",
			yaml:    minimalYAML + "  bogus: 1\n",
			wantErr: "field bogus not found",
		},
		{
			name:    "short_token_key",
			yaml:    "auth:\n  token_key: \"short\"\n",
			wantErr: "at least 32 characters",
		},
		{
			name:    "both_preferences_set",
			yaml:    minimalYAML,
			env:     map[string]string{"PREFER_TCP": "true"},
			wantErr: "exactly one of PREFER_UDP and PREFER_TCP",
		},
		{
			name:    "no_preference_set",
			yaml:    minimalYAML,
			env:     map[string]string{"PREFER_UDP": "false"},
			wantErr: "exactly one of PREFER_UDP and PREFER_TCP",
		},
		{
			name:    "no_transport_enabled",
			yaml:    minimalYAML,
			env:     map[string]string{"ENABLE_UDP": "false", "ENABLE_TCP": "false"},
			wantErr: "at least one of ENABLE_UDP and ENABLE_TCP",
		},
		{
			name:    "inverted_port_range",
			yaml:    minimalYAML,
			env:     map[string]string{"RTC_PORT_MIN": "11000", "RTC_PORT_MAX": "10000"},
			wantErr: "port range",
		},
		{
			name:    "prefer_disabled_transport",
			yaml:    minimalYAML,
			env:     map[string]string{"ENABLE_TCP": "false", "PREFER_UDP": "false", "PREFER_TCP": "true"},
			wantErr: "PREFER_TCP requires ENABLE_TCP",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfigFile(t, tt.yaml))
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTokenKeyEnvOverride(t *testing.T) {
	t.Setenv("ZLING_TOKEN_KEY", strings.Repeat("k", 40))

	cfg, err := Load(writeConfigFile(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.TokenKey != strings.Repeat("k", 40) {
		t.Errorf("token key not taken from environment")
	}
}
