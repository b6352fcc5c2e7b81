package notify

import (
	"math"
	"testing"
	"time"

	"github.com/faiface/beep"
)

func TestToneLevelAndLength(t *testing.T) {
	s := beep.Take(cueRate.N(100*time.Millisecond), tone(cueRate, 440, 0.3))

	var (
		total int
		peak  float64
		buf   = make([][2]float64, 512)
	)
	for {
		n, ok := s.Stream(buf)
		for _, smp := range buf[:n] {
			if smp[0] != smp[1] {
				t.Fatal("channels differ")
			}
			peak = math.Max(peak, math.Abs(smp[0]))
		}
		total += n
		if !ok {
			break
		}
	}

	if want := cueRate.N(100 * time.Millisecond); total != want {
		t.Fatalf("samples = %d, want %d", total, want)
	}
	if peak > 0.3+1e-9 || peak < 0.29 {
		t.Fatalf("peak = %f", peak)
	}
}

func TestToneStartsSilent(t *testing.T) {
	buf := make([][2]float64, 4)
	tone(cueRate, 1000, 1).Stream(buf)
	if buf[0][0] != 0 {
		t.Fatalf("first sample = %f", buf[0][0])
	}
}
