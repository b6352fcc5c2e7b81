// Package speech owns the loaded model and runs the preprocess → transcribe
// pipeline for a single request.
//
// The model state is published atomically once a load has fully succeeded and
// is never mutated afterwards, so handlers read it without locking. A failed
// load leaves the service permanently not ready; there is no retry.
package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync/atomic"
	"time"

	"scribe/internal/metrics"
	"scribe/pkg/audioconv"
	"scribe/pkg/stt"
)

var (
	ErrNotLoaded = errors.New("model not loaded")
	ErrBadAudio  = errors.New("audio preprocessing failed")
	ErrInference = errors.New("transcription failed")
)

// Opener loads an engine. It is called once per Load.
type Opener func(ctx context.Context) (stt.Engine, error)

type Options struct {
	Audio   audioconv.Options
	Device  string // auto, cpu, gpu
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

type Service struct {
	state atomic.Pointer[state]

	audio      audioconv.Options
	devicePref string
	metrics    *metrics.Metrics
	log        *log.Logger
}

type state struct {
	engine   stt.Engine
	device   stt.Device
	loadedAt time.Time
}

func New(opt Options) *Service {
	if opt.Metrics == nil {
		opt.Metrics = metrics.New()
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Service{
		audio:      opt.Audio,
		devicePref: opt.Device,
		metrics:    opt.Metrics,
		log:        opt.Logger,
	}
}

// Load resolves the device and runs open. On failure the service stays not
// ready and the error is returned for the caller to log.
func (s *Service) Load(ctx context.Context, open Opener) error {
	start := time.Now()

	dev, err := stt.SelectDevice(s.devicePref)
	if err != nil {
		return fmt.Errorf("select device: %w", err)
	}
	s.log.Info("Loading model", "device", dev.String())

	eng, err := open(ctx)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	if !s.state.CompareAndSwap(nil, &state{engine: eng, device: dev, loadedAt: time.Now()}) {
		eng.Close()
		return errors.New("model already loaded")
	}
	s.metrics.SetModelLoaded(true)

	s.log.Info("Model loaded", "model", eng.Name(), "family", eng.Family(), "device", dev.String(), "took", time.Since(start))
	return nil
}

func (s *Service) Ready() bool { return s.state.Load() != nil }

func (s *Service) Device() string {
	if st := s.state.Load(); st != nil {
		return st.device.String()
	}
	return "unknown"
}

// Model reports the loaded engine's identifier and family.
func (s *Service) Model() (name, family string, ok bool) {
	st := s.state.Load()
	if st == nil {
		return "", "", false
	}
	return st.engine.Name(), st.engine.Family(), true
}

func (s *Service) SampleRate() int {
	if s.audio.SampleRate <= 0 {
		return audioconv.DefaultSampleRate
	}
	return s.audio.SampleRate
}

// Preprocess decodes the file at path to a peak-normalized mono waveform.
func (s *Service) Preprocess(ctx context.Context, path string) ([]float32, error) {
	x, err := audioconv.ConvertFile(ctx, path, s.audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadAudio, err)
	}
	s.metrics.ObserveAudio(len(x), s.SampleRate())
	return audioconv.PeakNormalize(x), nil
}

// Transcribe runs the model over a normalized waveform and returns lowercase,
// trimmed text. Silent input yields "" without running the model.
func (s *Service) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	st := s.state.Load()
	if st == nil {
		return "", ErrNotLoaded
	}
	if audioconv.Peak(pcm) == 0 {
		return "", nil
	}

	start := time.Now()
	res, err := st.engine.Transcribe(ctx, pcm)
	s.metrics.ObserveInference(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInference, err)
	}
	return strings.ToLower(strings.TrimSpace(res.Text)), nil
}

// TranscribeFile is Preprocess followed by Transcribe.
func (s *Service) TranscribeFile(ctx context.Context, path string) (string, error) {
	if !s.Ready() {
		return "", ErrNotLoaded
	}
	pcm, err := s.Preprocess(ctx, path)
	if err != nil {
		return "", err
	}
	return s.Transcribe(ctx, pcm)
}

func (s *Service) Close() error {
	st := s.state.Swap(nil)
	if st == nil {
		return nil
	}
	s.metrics.SetModelLoaded(false)
	return st.engine.Close()
}
