package stt

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// sharedModel hands out contexts that all decode into one state, the way
// whisper.cpp contexts of a single model do.
type sharedModel struct {
	mu      sync.Mutex
	segs    []string
	next    int
	inside  int
	overlap int // highest number of decodes seen in flight at once
}

func (m *sharedModel) Close() error { return nil }
func (m *sharedModel) IsMultilingual() bool { return false }
func (m *sharedModel) Languages() []string { return []string{"en"} }
func (m *sharedModel) NewContext() (whisper.Context, error) {
	return &sharedContext{model: m}, nil
}

type sharedContext struct {
	// methods Transcribe does not call are left nil
	whisper.Context

	model *sharedModel
}

func (c *sharedContext) SetLanguage(string) error { return nil }
func (c *sharedContext) SetTranslate(bool) {}
func (c *sharedContext) SetThreads(uint) {}
func (c *sharedContext) Language() string { return "en" }
func (c *sharedContext) DetectedLanguage() string { return "" }

func (c *sharedContext) Process(pcm []float32, _ whisper.EncoderBeginCallback, _ whisper.SegmentCallback, _ whisper.ProgressCallback) error {
	m := c.model
	m.mu.Lock()
	m.inside++
	m.overlap = max(m.overlap, m.inside)
	id := int(pcm[0])
	m.segs = []string{fmt.Sprintf("clip %d", id), fmt.Sprintf("part two of %d", id)}
	m.next = 0
	m.mu.Unlock()

	time.Sleep(time.Millisecond)
	return nil
}

func (c *sharedContext) NextSegment() (whisper.Segment, error) {
	m := c.model
	time.Sleep(100 * time.Microsecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.segs) {
		m.inside--
		return whisper.Segment{}, io.EOF
	}
	s := whisper.Segment{Num: m.next, Text: " " + m.segs[m.next]}
	m.next++
	return s, nil
}

func TestWhisperConcurrentTranscribe(t *testing.T) {
	m := &sharedModel{}
	w := &Whisper{model: m, name: "shared", language: "en", threads: 1}

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.Transcribe(context.Background(), []float32{float32(i), 0, 0})
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("clip %d part two of %d", i, i); res.Text != want {
				errs <- fmt.Errorf("request %d got %q, want %q", i, res.Text, want)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if m.overlap != 1 {
		t.Fatalf("%d decodes ran on the shared state at once", m.overlap)
	}
}

func TestWhisperTranscribeCancelledWhileWaiting(t *testing.T) {
	w := &Whisper{model: &sharedModel{}, name: "shared", language: "en", threads: 1}

	w.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.Transcribe(ctx, []float32{1})
		done <- err
	}()
	cancel()
	w.mu.Unlock()

	if err := <-done; err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
