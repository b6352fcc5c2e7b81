package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const (
	EngineWhisper  = "whisper"
	EngineWav2Vec2 = "wav2vec2"
	EngineOpenAI   = "openai"
)

const (
	familyWhisper  = "whisper.cpp"
	familyWav2Vec2 = "Wav2Vec2ForCTC"
	familyOpenAI   = "openai"
)

// Engine runs a pretrained speech model over mono 16 kHz samples.
// Implementations must be safe for concurrent Transcribe calls.
type Engine interface {
	// Name is the model identifier, e.g. "ggml-base.en" or "facebook/wav2vec2-base-960h".
	Name() string
	// Family is the model architecture family.
	Family() string
	Transcribe(ctx context.Context, pcm16k []float32) (Result, error)
	Close() error
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

type Config struct {
	Engine    string
	ModelName string // reported identifier; defaults per engine
	ModelPath string // whisper: ggml model file
	Language  string // "" = engine default
	Threads   int    // whisper: <=0 => NumCPU()

	URL       string // wav2vec2: forward-pass sidecar; openai: base URL override
	VocabPath string // wav2vec2: vocab.json, empty = built-in
	APIKey    string // openai

	HTTPClient *http.Client  // remote engines; nil => default client with Timeout
	Timeout    time.Duration // remote engines; 0 => 120s
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Open loads the engine named by cfg.Engine.
func Open(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Engine {
	case EngineWhisper, "":
		return NewWhisper(cfg)
	case EngineWav2Vec2:
		return NewWav2Vec2(ctx, cfg)
	case EngineOpenAI:
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown engine %q (supported: %s, %s, %s)", cfg.Engine, EngineWhisper, EngineWav2Vec2, EngineOpenAI)
	}
}

// Describe reports the name and family an engine opened with cfg would have,
// without loading anything.
func Describe(cfg Config) (name, family string) {
	name = cfg.ModelName
	switch cfg.Engine {
	case EngineWhisper, "":
		if name == "" && cfg.ModelPath != "" {
			name = strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath))
		}
		return name, familyWhisper
	case EngineWav2Vec2:
		if name == "" {
			name = defaultWav2Vec2Model
		}
		return name, familyWav2Vec2
	case EngineOpenAI:
		if name == "" {
			name = defaultOpenAIModel
		}
		return name, familyOpenAI
	default:
		return name, cfg.Engine
	}
}

var errNoSamples = errors.New("no audio samples provided")
