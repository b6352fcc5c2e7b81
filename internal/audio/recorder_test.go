package audio

import (
	"math"
	"testing"
	"time"
)

func frame(n int, amp float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		if i%2 == 0 {
			f[i] = amp
		} else {
			f[i] = -amp
		}
	}
	return f
}

func TestFrameRMS(t *testing.T) {
	if got := frameRMS(nil); got != 0 {
		t.Fatalf("empty = %v", got)
	}
	if got := frameRMS(frame(320, 0.5)); math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("square wave rms = %v", got)
	}
}

func TestTakeDetector(t *testing.T) {
	opt := RecorderOptions{
		SampleRate:      16000,
		SilenceRMS:      0.015,
		SilenceDuration: 100 * time.Millisecond, // 5 frames
		MaxDuration:     2 * time.Second,        // 100 frames
	}
	const size = 320

	t.Run("leading silence is dropped", func(t *testing.T) {
		d := newTakeDetector(opt, size)
		for range 10 {
			d.push(frame(size, 0.001))
		}
		if d.done() || d.take() != nil {
			t.Fatal("silence alone must not start a take")
		}
	})

	t.Run("trailing silence ends the take", func(t *testing.T) {
		d := newTakeDetector(opt, size)
		d.push(frame(size, 0.001))
		for range 3 {
			d.push(frame(size, 0.3))
		}
		for i := range 5 {
			if d.done() {
				t.Fatalf("done after %d quiet frames", i)
			}
			d.push(frame(size, 0))
		}
		if !d.done() {
			t.Fatal("take did not end")
		}
		if got := len(d.take()); got != 8*size {
			t.Fatalf("take = %d samples, want %d", got, 8*size)
		}
	})

	t.Run("speech resets the silence counter", func(t *testing.T) {
		d := newTakeDetector(opt, size)
		d.push(frame(size, 0.3))
		for range 4 {
			d.push(frame(size, 0))
		}
		d.push(frame(size, 0.3))
		for range 4 {
			d.push(frame(size, 0))
		}
		if d.done() {
			t.Fatal("ended although speech resumed")
		}
	})

	t.Run("max duration", func(t *testing.T) {
		d := newTakeDetector(opt, size)
		for range 100 {
			d.push(frame(size, 0.3))
		}
		if !d.done() {
			t.Fatal("max duration not enforced")
		}
	})
}

func TestNewRecorderDefaults(t *testing.T) {
	r := NewRecorder(RecorderOptions{})
	if r.SampleRate() != 16000 || r.opt.MaxDuration != 30*time.Second || r.opt.SilenceRMS != 0.015 {
		t.Fatalf("defaults = %+v", r.opt)
	}
}
