package speech

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"scribe/pkg/audioconv"
	"scribe/pkg/stt"
	"scribe/pkg/stt/stttest"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return New(Options{Device: "cpu"})
}

func tone(n int) []float32 {
	x := make([]float32, n)
	for i := range x {
		x[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return x
}

func TestLoadPublishesState(t *testing.T) {
	s := newService(t)
	if s.Ready() || s.Device() != "unknown" {
		t.Fatalf("fresh service ready=%v device=%q", s.Ready(), s.Device())
	}

	eng := &stttest.Engine{Text: "  Hello World  "}
	if err := s.Load(context.Background(), eng.Opener()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Ready() {
		t.Fatal("not ready after load")
	}
	if name, family, ok := s.Model(); !ok || name != "fake-model" || family != "fake" {
		t.Fatalf("Model() = %q %q %v", name, family, ok)
	}

	got, err := s.Transcribe(context.Background(), tone(1600))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello world" {
		t.Fatalf("transcript = %q", got)
	}

	if err := s.Load(context.Background(), eng.Opener()); err == nil {
		t.Fatal("second load should fail")
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !eng.Closed() || s.Ready() {
		t.Fatalf("closed=%v ready=%v", eng.Closed(), s.Ready())
	}
}

func TestLoadFailureLeavesServiceUnready(t *testing.T) {
	s := newService(t)
	err := s.Load(context.Background(), func(context.Context) (stt.Engine, error) {
		return nil, errors.New("weights not found")
	})
	if err == nil {
		t.Fatal("expected load error")
	}
	if s.Ready() {
		t.Fatal("service ready after failed load")
	}

	_, err = s.Transcribe(context.Background(), tone(10))
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestLoadRejectsUnknownDevice(t *testing.T) {
	s := New(Options{Device: "tpu"})
	eng := &stttest.Engine{}
	if err := s.Load(context.Background(), eng.Opener()); err == nil {
		t.Fatal("expected device error")
	}
	if s.Ready() {
		t.Fatal("ready after device failure")
	}
}

func TestTranscribeSilenceSkipsModel(t *testing.T) {
	s := newService(t)
	eng := &stttest.Engine{Text: "should not appear"}
	if err := s.Load(context.Background(), eng.Opener()); err != nil {
		t.Fatal(err)
	}

	got, err := s.Transcribe(context.Background(), make([]float32, 16000))
	if err != nil || got != "" {
		t.Fatalf("silence -> %q, %v", got, err)
	}
	if eng.Calls() != 0 {
		t.Fatalf("engine called %d times for silence", eng.Calls())
	}
}

func TestTranscribeInferenceError(t *testing.T) {
	s := newService(t)
	eng := &stttest.Engine{Err: errors.New("tensor shape mismatch")}
	if err := s.Load(context.Background(), eng.Opener()); err != nil {
		t.Fatal(err)
	}

	_, err := s.Transcribe(context.Background(), tone(100))
	if !errors.Is(err, ErrInference) {
		t.Fatalf("err = %v, want ErrInference", err)
	}
	if err.Error() != "transcription failed: tensor shape mismatch" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestTranscribeFile(t *testing.T) {
	s := newService(t)
	eng := &stttest.Engine{Text: "OK"}
	if err := s.Load(context.Background(), eng.Opener()); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	good := filepath.Join(dir, "tone.wav")
	f, err := os.Create(good)
	if err != nil {
		t.Fatal(err)
	}
	if err := audioconv.EncodeWAV(f, tone(8000), 8000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := s.TranscribeFile(context.Background(), good)
	if err != nil || got != "ok" {
		t.Fatalf("TranscribeFile = %q, %v", got, err)
	}

	bad := filepath.Join(dir, "empty.wav")
	if err := os.WriteFile(bad, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TranscribeFile(context.Background(), bad); !errors.Is(err, ErrBadAudio) {
		t.Fatalf("err = %v, want ErrBadAudio", err)
	}
}

func TestPreprocessNormalizes(t *testing.T) {
	s := newService(t)
	path := filepath.Join(t.TempDir(), "quiet.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	quiet := tone(16000)
	for i := range quiet {
		quiet[i] *= 0.2
	}
	if err := audioconv.EncodeWAV(f, quiet, 16000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	x, err := s.Preprocess(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 16000 {
		t.Fatalf("len = %d", len(x))
	}
	if p := audioconv.Peak(x); p < 0.999 || p > 1.0001 {
		t.Fatalf("peak = %f", p)
	}
}
