package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// [BLANK_AUDIO], (music), [inaudible] ...
var nonSpeechRe = regexp.MustCompile(`^\s*[\[(][^\])]*[\])]\s*$`)

type Whisper struct {
	// every context made by the model shares one whisper_state, so a decode
	// holds mu from Process until its last segment is read
	mu sync.Mutex

	model    whisper.Model // interface, not pointer
	name     string
	language string
	threads  int
}

func NewWhisper(cfg Config) (*Whisper, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("empty model path")
	}
	if err := checkCPUSupport(); err != nil {
		return nil, err
	}
	m, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	name, _ := Describe(cfg)
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	return &Whisper{model: m, name: name, language: lang, threads: threads}, nil
}

func (w *Whisper) Name() string   { return w.name }
func (w *Whisper) Family() string { return familyWhisper }

func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

// Transcribe decodes greedily (beam search disabled). Concurrent calls are
// serialized.
func (w *Whisper) Transcribe(ctx context.Context, pcm16k []float32) (Result, error) {
	if w.model == nil {
		return Result{}, errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return Result{}, errNoSamples
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}
	if err := wctx.SetLanguage(w.language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(false)
	wctx.SetThreads(uint(w.threads))

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs  []Segment
		texts []string
	)
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		if nonSpeechRe.MatchString(s.Text) {
			continue
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		texts = append(texts, strings.TrimSpace(s.Text))
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return Result{
		Text:     strings.Join(texts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}
