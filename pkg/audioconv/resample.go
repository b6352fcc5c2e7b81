package audioconv

import (
	"math"

	"github.com/faiface/beep"
)

const resampleQuality = 4

// monoStreamer feeds a mono slice into beep, duplicated on both channels.
type monoStreamer struct {
	x   []float32
	pos int
}

func (s *monoStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= len(s.x) {
		return 0, false
	}
	for n < len(samples) && s.pos < len(s.x) {
		v := float64(s.x[s.pos])
		samples[n][0], samples[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *monoStreamer) Err() error { return nil }

func drainMono(s beep.Streamer) []float32 {
	var (
		out []float32
		buf = make([][2]float64, 4096)
	)
	for {
		n, ok := s.Stream(buf)
		for _, fr := range buf[:n] {
			out = append(out, float32((fr[0]+fr[1])/2))
		}
		if !ok || n == 0 {
			return out
		}
	}
}

// Resample converts mono samples from one rate to another through beep's
// interpolating resampler. The result holds exactly round(len(x)*to/from) samples.
func Resample(x []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(x) == 0 {
		return x
	}
	want := int(math.Round(float64(len(x)) * float64(to) / float64(from)))

	r := beep.Resample(resampleQuality, beep.SampleRate(from), beep.SampleRate(to), &monoStreamer{x: x})

	out := make([]float32, 0, want)
	buf := make([][2]float64, 1024)
	for len(out) < want {
		n, ok := r.Stream(buf[:min(len(buf), want-len(out))])
		for _, fr := range buf[:n] {
			out = append(out, float32(fr[0]))
		}
		if !ok || n == 0 {
			break
		}
	}
	for len(out) < want {
		out = append(out, 0)
	}
	return out
}

// Peak returns the largest absolute sample value.
func Peak(x []float32) float32 {
	var peak float32
	for _, v := range x {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// PeakNormalize scales x in place so that its peak amplitude is 1.0.
// Silent input (peak 0) is returned untouched.
func PeakNormalize(x []float32) []float32 {
	peak := Peak(x)
	if peak == 0 || math.IsInf(float64(peak), 0) || math.IsNaN(float64(peak)) {
		return x
	}
	for i := range x {
		x[i] /= peak
	}
	return x
}
