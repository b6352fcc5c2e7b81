package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", s.Port)
	}
	if s.PortRangeEnd == 0 {
		s.PortRangeEnd = s.Port
	}
	if s.PortRangeEnd < s.Port || s.PortRangeEnd > 65535 {
		return fmt.Errorf("port_range_end must be between port (%d) and 65535, got %d", s.Port, s.PortRangeEnd)
	}
	if s.ScratchDir == "" {
		return fmt.Errorf("scratch_dir cannot be empty")
	}
	return nil
}

func (u *UploadConfig) Validate() error {
	if u.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", u.MaxBytes)
	}
	// env lists arrive lowercased, yaml lists as written
	u.AllowedTypes = normalizeList(u.AllowedTypes)
	u.AllowedExtensions = normalizeList(u.AllowedExtensions)

	for _, t := range u.AllowedTypes {
		if !strings.HasPrefix(t, "audio/") {
			return fmt.Errorf("allowed type %q is not an audio type", t)
		}
	}
	for _, e := range u.AllowedExtensions {
		if !strings.HasPrefix(e, ".") {
			return fmt.Errorf("allowed extension %q must start with a dot", e)
		}
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000, got %d", a.SampleRate)
	}
	return nil
}

func (m *ModelConfig) Validate() error {
	switch m.Engine {
	case "whisper", "wav2vec2", "openai":
	default:
		return fmt.Errorf("engine must be one of whisper, wav2vec2, openai, got %q", m.Engine)
	}
	switch strings.ToLower(m.Device) {
	case "auto", "cpu", "gpu":
	default:
		return fmt.Errorf("device must be one of auto, cpu, gpu, got %q", m.Device)
	}
	if m.Threads < 0 {
		return fmt.Errorf("threads cannot be negative, got %d", m.Threads)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", m.Timeout)
	}
	return nil
}

func (l *LogConfig) Validate() error {
	l.Level = strings.ToLower(l.Level)
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	if l.Debug {
		l.Level = "debug"
	}
	return nil
}
