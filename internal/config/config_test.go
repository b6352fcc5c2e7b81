package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 || cfg.Server.PortRangeEnd != 8010 {
		t.Errorf("ports = %d..%d", cfg.Server.Port, cfg.Server.PortRangeEnd)
	}
	if cfg.Upload.MaxBytes != 50*1024*1024 {
		t.Errorf("max upload = %d", cfg.Upload.MaxBytes)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d", cfg.Audio.SampleRate)
	}
	if cfg.Model.Engine != "whisper" || cfg.Log.Level != "info" {
		t.Errorf("engine=%q level=%q", cfg.Model.Engine, cfg.Log.Level)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	yml := `
server:
  port: 9000
  port_range_end: 9005
model:
  engine: wav2vec2
  url: http://localhost:7000
  timeout: 30s
log:
  level: WARN
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SCRIBE_PORT", "9001")
	t.Setenv("SCRIBE_ALLOWED_EXTENSIONS", ".wav, .MP3")

	cfg, err := Load([]string{"--config", path, "--port-range-end", "9009", "--debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want env value 9001", cfg.Server.Port)
	}
	if cfg.Server.PortRangeEnd != 9009 {
		t.Errorf("port_range_end = %d, want flag value 9009", cfg.Server.PortRangeEnd)
	}
	if cfg.Model.Engine != "wav2vec2" || cfg.Model.URL != "http://localhost:7000" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Model.Timeout != 30*time.Second {
		t.Errorf("timeout = %s", cfg.Model.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q, want debug forced by --debug", cfg.Log.Level)
	}
	if strings.Join(cfg.Upload.AllowedExtensions, ",") != ".wav,.mp3" {
		t.Errorf("extensions = %v", cfg.Upload.AllowedExtensions)
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("SCRIBE_PORT", "eighty")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "port must be"},
		{"range", func(c *Config) { c.Server.PortRangeEnd = 7000 }, "port_range_end"},
		{"upload", func(c *Config) { c.Upload.MaxBytes = 0 }, "max_bytes"},
		{"type", func(c *Config) { c.Upload.AllowedTypes = []string{"video/mp4"} }, "not an audio type"},
		{"ext", func(c *Config) { c.Upload.AllowedExtensions = []string{"wav"} }, "start with a dot"},
		{"rate", func(c *Config) { c.Audio.SampleRate = 100 }, "sample_rate"},
		{"engine", func(c *Config) { c.Model.Engine = "kaldi" }, "engine must be"},
		{"device", func(c *Config) { c.Model.Device = "tpu" }, "device must be"},
		{"level", func(c *Config) { c.Log.Level = "verbose" }, "level must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadNormalizesYAMLLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	yml := `
upload:
  allowed_types: [" Audio/X-WAV ", "audio/MPEG", ""]
  allowed_extensions: [".WAV", " .Mp3"]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.Upload.AllowedTypes, ","); got != "audio/x-wav,audio/mpeg" {
		t.Errorf("types = %q", got)
	}
	if got := strings.Join(cfg.Upload.AllowedExtensions, ","); got != ".wav,.mp3" {
		t.Errorf("extensions = %q", got)
	}
}

func TestValidateRangeDefaultsToPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 8500
	cfg.Server.PortRangeEnd = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.PortRangeEnd != 8500 {
		t.Fatalf("port_range_end = %d", cfg.Server.PortRangeEnd)
	}
}
