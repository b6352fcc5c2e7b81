// Package notify plays short audible cues around a microphone take.
package notify

import (
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

const cueRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

// Cue plays a sine tone at freq Hz for d and blocks until it has finished.
func Cue(freq float64, d time.Duration) error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(cueRate, cueRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return speakerErr
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(
		beep.Take(cueRate.N(d), tone(cueRate, freq, 0.3)),
		beep.Callback(func() { close(done) }),
	))
	<-done
	return nil
}

// Start and Stop are the cues used before and after recording.
func Start() error { return Cue(880, 120*time.Millisecond) }
func Stop() error  { return Cue(440, 120*time.Millisecond) }

// tone is an endless sine streamer with a short attack to avoid clicks.
func tone(sr beep.SampleRate, freq, gain float64) beep.Streamer {
	step := 2 * math.Pi * freq / float64(sr)
	attack := sr.N(5 * time.Millisecond)
	var n int

	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			env := 1.0
			if n < attack {
				env = float64(n) / float64(attack)
			}
			v := gain * env * math.Sin(step*float64(n))
			samples[i][0], samples[i][1] = v, v
			n++
		}
		return len(samples), true
	})
}
