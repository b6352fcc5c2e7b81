package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"scribe/pkg/ctc"
)

const defaultWav2Vec2Model = "facebook/wav2vec2-base-960h"

// Wav2Vec2 runs a CTC acoustic model through a forward-pass sidecar and
// decodes the returned logits locally.
//
// Sidecar contract:
//
//	GET  {url}/health   -> 200 once the weights are loaded
//	POST {url}/forward  {"model": ..., "input_values": [...], "sampling_rate": 16000}
//	                    -> {"logits": [[...], ...]}  (timesteps x vocabulary)
type Wav2Vec2 struct {
	url    string
	name   string
	vocab  *ctc.Vocabulary
	client *http.Client
}

type forwardRequest struct {
	Model        string    `json:"model"`
	InputValues  []float32 `json:"input_values"`
	SamplingRate int       `json:"sampling_rate"`
}

type forwardResponse struct {
	Logits [][]float32 `json:"logits"`
}

func NewWav2Vec2(ctx context.Context, cfg Config) (*Wav2Vec2, error) {
	if cfg.URL == "" {
		return nil, errors.New("wav2vec2: empty sidecar url")
	}

	vocab := ctc.DefaultVocabulary()
	if cfg.VocabPath != "" {
		v, err := ctc.LoadVocabulary(cfg.VocabPath)
		if err != nil {
			return nil, fmt.Errorf("wav2vec2: %w", err)
		}
		vocab = v
	}

	name, _ := Describe(cfg)

	e := &Wav2Vec2{
		url:    strings.TrimRight(cfg.URL, "/"),
		name:   name,
		vocab:  vocab,
		client: cfg.httpClient(),
	}
	if err := e.ping(ctx); err != nil {
		return nil, fmt.Errorf("wav2vec2: %w", err)
	}
	return e, nil
}

func (e *Wav2Vec2) Name() string   { return e.name }
func (e *Wav2Vec2) Family() string { return familyWav2Vec2 }
func (e *Wav2Vec2) Close() error   { return nil }

func (e *Wav2Vec2) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar not ready (status %d)", resp.StatusCode)
	}
	return nil
}

func (e *Wav2Vec2) Transcribe(ctx context.Context, pcm16k []float32) (Result, error) {
	if len(pcm16k) == 0 {
		return Result{}, errNoSamples
	}

	body, err := json.Marshal(forwardRequest{
		Model:        e.name,
		InputValues:  ctc.Normalize(pcm16k),
		SamplingRate: 16000,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/forward", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("forward error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out forwardResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode logits: %w", err)
	}

	text, err := ctc.GreedyDecode(e.vocab, out.Logits)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}
