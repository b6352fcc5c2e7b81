package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"scribe/pkg/audioconv"
)

const defaultOpenAIModel = "whisper-1"

// OpenAI sends audio to the hosted transcription endpoint.
type OpenAI struct {
	client   openai.Client
	model    string
	language string
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: OPENAI_API_KEY not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(0),
	}
	if cfg.URL != "" {
		opts = append(opts, option.WithBaseURL(cfg.URL))
	}

	model, _ := Describe(cfg)

	return &OpenAI{
		client:   openai.NewClient(opts...),
		model:    model,
		language: cfg.Language,
	}, nil
}

func (o *OpenAI) Name() string   { return o.model }
func (o *OpenAI) Family() string { return familyOpenAI }
func (o *OpenAI) Close() error   { return nil }

func (o *OpenAI) Transcribe(ctx context.Context, pcm16k []float32) (Result, error) {
	if len(pcm16k) == 0 {
		return Result{}, errNoSamples
	}

	f, err := os.CreateTemp("", "scribe-openai-*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := audioconv.EncodeWAV(f, pcm16k, 16000); err != nil {
		return Result{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("rewind wav: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, "audio.wav", "audio/wav"),
		Model: openai.AudioModel(o.model),
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}

	return Result{Text: resp.Text, Language: o.language}, nil
}
