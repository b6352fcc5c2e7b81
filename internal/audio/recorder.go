package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

var ErrNoSpeech = errors.New("no speech recorded")

type RecorderOptions struct {
	SampleRate      int           // <=0 => 16000
	SilenceRMS      float64       // <=0 => 0.015
	SilenceDuration time.Duration // trailing silence that ends a take; <=0 => 800ms
	MaxDuration     time.Duration // <=0 => 30s
}

type Recorder struct {
	opt RecorderOptions
}

func NewRecorder(opt RecorderOptions) *Recorder {
	if opt.SampleRate <= 0 {
		opt.SampleRate = 16000
	}
	if opt.SilenceRMS <= 0 {
		opt.SilenceRMS = 0.015
	}
	if opt.SilenceDuration <= 0 {
		opt.SilenceDuration = 800 * time.Millisecond
	}
	if opt.MaxDuration <= 0 {
		opt.MaxDuration = 30 * time.Second
	}
	return &Recorder{opt: opt}
}

func (r *Recorder) SampleRate() int { return r.opt.SampleRate }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// RecordAuto captures from the default input device. Recording starts at the
// first frame above the silence threshold and stops after SilenceDuration of
// quiet, at MaxDuration, or when ctx is done.
func (r *Recorder) RecordAuto(ctx context.Context) ([]float32, error) {
	frameSize := r.opt.SampleRate / 50 // 20ms

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.opt.SampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	det := newTakeDetector(r.opt, frameSize)
	for !det.done() {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		det.push(buf)
	}

	out := det.take()
	if len(out) == 0 {
		return nil, ErrNoSpeech
	}
	return out, nil
}

// takeDetector is the silence gate behind RecordAuto.
type takeDetector struct {
	thresh        float64
	silenceFrames int
	maxFrames     int

	frames   int
	speaking bool
	quiet    int
	out      []float32
}

func newTakeDetector(opt RecorderOptions, frameSize int) *takeDetector {
	frameDur := time.Duration(frameSize) * time.Second / time.Duration(opt.SampleRate)
	return &takeDetector{
		thresh:        opt.SilenceRMS,
		silenceFrames: int(opt.SilenceDuration / frameDur),
		maxFrames:     int(opt.MaxDuration / frameDur),
		out:           make([]float32, 0, opt.SampleRate*3),
	}
}

func (d *takeDetector) push(frame []float32) {
	d.frames++

	if frameRMS(frame) > d.thresh {
		d.speaking = true
		d.quiet = 0
		d.out = append(d.out, frame...)
		return
	}
	if d.speaking {
		d.quiet++
		d.out = append(d.out, frame...)
	}
}

func (d *takeDetector) done() bool {
	if d.frames >= d.maxFrames {
		return true
	}
	return d.speaking && d.quiet >= d.silenceFrames
}

func (d *takeDetector) take() []float32 {
	if !d.speaking {
		return nil
	}
	return d.out
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
