package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Upload UploadConfig `yaml:"upload"`
	Audio  AudioConfig  `yaml:"audio"`
	Model  ModelConfig  `yaml:"model"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	PortRangeEnd int    `yaml:"port_range_end"` // last port tried when Port is taken
	ScratchDir   string `yaml:"scratch_dir"`
}

type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes"`
	AllowedTypes      []string `yaml:"allowed_types"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

type ModelConfig struct {
	Engine    string        `yaml:"engine"`
	Name      string        `yaml:"name"`
	Path      string        `yaml:"path"`
	Language  string        `yaml:"language"`
	Threads   int           `yaml:"threads"`
	Device    string        `yaml:"device"`
	URL       string        `yaml:"url"`
	VocabPath string        `yaml:"vocab_path"`
	APIKey    string        `yaml:"api_key"`
	Proxy     string        `yaml:"proxy"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			PortRangeEnd: 8010,
			ScratchDir:   filepath.Join(os.TempDir(), "scribe"),
		},
		Upload: UploadConfig{
			MaxBytes: 50 << 20,
			AllowedTypes: []string{
				"audio/wav", "audio/x-wav", "audio/wave", "audio/mpeg", "audio/mp3",
				"audio/flac", "audio/x-flac", "audio/m4a", "audio/x-m4a", "audio/mp4",
				"audio/ogg", "audio/opus", "audio/webm",
			},
			AllowedExtensions: []string{".wav", ".mp3", ".flac", ".m4a", ".ogg", ".opus", ".webm"},
		},
		Audio: AudioConfig{
			SampleRate: 16000,
		},
		Model: ModelConfig{
			Engine:  "whisper",
			Path:    "models/ggml-base.en.bin",
			Device:  "auto",
			Timeout: 120 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment (after loading the env file), and finally command line flags.
func Load(args []string) (*Config, error) {
	pre := cli.NewFlagSet("scribe", cli.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	configPath := pre.StringP("config", "c", "", "")
	envFile := pre.StringP("env", "e", ".env", "")
	_ = pre.Parse(args)

	cfg := Default()
	if *configPath != "" {
		if err := cfg.loadYAML(*configPath); err != nil {
			return nil, err
		}
	}

	godotenv.Load(*envFile)
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	fs := cli.NewFlagSet("scribe", cli.ContinueOnError)
	fs.StringP("config", "c", *configPath, "YAML config file")
	fs.StringP("env", "e", *envFile, "Env file path")
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) bindFlags(fs *cli.FlagSet) {
	fs.StringVar(&c.Server.Host, "host", c.Server.Host, "Bind host")
	fs.IntVarP(&c.Server.Port, "port", "p", c.Server.Port, "Bind port")
	fs.IntVar(&c.Server.PortRangeEnd, "port-range-end", c.Server.PortRangeEnd, "Last port tried when the bind port is taken")
	fs.StringVar(&c.Server.ScratchDir, "scratch-dir", c.Server.ScratchDir, "Directory for request scratch files")

	fs.Int64Var(&c.Upload.MaxBytes, "max-upload", c.Upload.MaxBytes, "Maximum upload size in bytes")

	fs.IntVar(&c.Audio.SampleRate, "sample-rate", c.Audio.SampleRate, "Model input sample rate")
	fs.StringVar(&c.Audio.FFmpegPath, "ffmpeg", c.Audio.FFmpegPath, "ffmpeg binary for m4a/webm (empty disables)")

	fs.StringVar(&c.Model.Engine, "engine", c.Model.Engine, "Inference engine: whisper, wav2vec2, openai")
	fs.StringVarP(&c.Model.Name, "model", "m", c.Model.Name, "Model identifier")
	fs.StringVar(&c.Model.Path, "model-path", c.Model.Path, "Local model file (whisper)")
	fs.StringVar(&c.Model.Language, "language", c.Model.Language, "Spoken language")
	fs.IntVar(&c.Model.Threads, "threads", c.Model.Threads, "Inference threads (0 = all CPUs)")
	fs.StringVar(&c.Model.Device, "device", c.Model.Device, "Compute device: auto, cpu, gpu")
	fs.StringVar(&c.Model.URL, "model-url", c.Model.URL, "Remote engine base URL")
	fs.StringVar(&c.Model.VocabPath, "vocab", c.Model.VocabPath, "CTC vocab.json (wav2vec2)")
	fs.StringVarP(&c.Model.Proxy, "proxy", "x", c.Model.Proxy, "SOCKS5 proxy for remote engines")
	fs.DurationVar(&c.Model.Timeout, "model-timeout", c.Model.Timeout, "Remote engine request timeout")

	fs.StringVarP(&c.Log.Level, "log", "l", c.Log.Level, "Log level")
	fs.BoolVarP(&c.Log.Debug, "debug", "d", c.Log.Debug, "Debug mode")
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("SCRIBE_HOST", &c.Server.Host)
	if err := num("SCRIBE_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := num("SCRIBE_PORT_RANGE_END", &c.Server.PortRangeEnd); err != nil {
		return err
	}
	str("SCRIBE_SCRATCH_DIR", &c.Server.ScratchDir)

	if v := getenv("SCRIBE_MAX_UPLOAD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SCRIBE_MAX_UPLOAD: %w", err)
		}
		c.Upload.MaxBytes = n
	}
	if v := getenv("SCRIBE_ALLOWED_TYPES"); v != "" {
		c.Upload.AllowedTypes = splitList(v)
	}
	if v := getenv("SCRIBE_ALLOWED_EXTENSIONS"); v != "" {
		c.Upload.AllowedExtensions = splitList(v)
	}

	if err := num("SCRIBE_SAMPLE_RATE", &c.Audio.SampleRate); err != nil {
		return err
	}
	str("SCRIBE_FFMPEG", &c.Audio.FFmpegPath)

	str("SCRIBE_ENGINE", &c.Model.Engine)
	str("SCRIBE_MODEL", &c.Model.Name)
	str("SCRIBE_MODEL_PATH", &c.Model.Path)
	str("SCRIBE_LANGUAGE", &c.Model.Language)
	if err := num("SCRIBE_THREADS", &c.Model.Threads); err != nil {
		return err
	}
	str("SCRIBE_DEVICE", &c.Model.Device)
	str("SCRIBE_MODEL_URL", &c.Model.URL)
	str("SCRIBE_VOCAB", &c.Model.VocabPath)
	str("OPENAI_API_KEY", &c.Model.APIKey)
	str("SCRIBE_PROXY", &c.Model.Proxy)
	if v := getenv("SCRIBE_MODEL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCRIBE_MODEL_TIMEOUT: %w", err)
		}
		c.Model.Timeout = d
	}

	str("LOG_LEVEL", &c.Log.Level)
	if v := getenv("DEBUG"); v != "" {
		c.Log.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
