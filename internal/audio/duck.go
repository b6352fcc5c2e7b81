package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150 // pactl percent ceiling

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// pactlFunc runs pactl with args and returns its stdout.
type pactlFunc func(ctx context.Context, args ...string) ([]byte, error)

func execPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// Ducker dims other PulseAudio playback streams while the microphone is
// recording and restores their volume afterwards.
type Ducker struct {
	mu     sync.Mutex
	pactl  pactlFunc
	skip   []string    // application.name values left untouched
	floor  int         // lowest volume a ducked stream is set to
	saved  map[int]int // sink input id -> volume before Duck
	active bool
}

func NewDucker(skip []string, floor int) *Ducker {
	return &Ducker{
		pactl: execPactl,
		skip:  append([]string(nil), skip...),
		floor: clampVolume(floor),
		saved: make(map[int]int),
	}
}

// Duck fades every foreign stream to factor times its current volume.
// Calling it again before Restore is a no-op.
func (d *Ducker) Duck(ctx context.Context, factor float64, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int, len(inputs))
	targets := make([]fadeTarget, 0, len(inputs))
	for _, in := range inputs {
		to := int(math.Round(float64(in.Volume) * factor))
		to = clampVolume(max(to, d.floor))
		d.saved[in.ID] = in.Volume
		targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: to})
	}

	if err := d.fade(ctx, targets, fade); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Restore fades ducked streams back to their saved volume. Streams that
// appeared after Duck are left alone.
func (d *Ducker) Restore(ctx context.Context, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, in := range inputs {
		if orig, ok := d.saved[in.ID]; ok {
			targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: orig})
		}
	}

	if err := d.fade(ctx, targets, fade); err != nil {
		return err
	}
	d.saved = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	all := parseSinkInputs(string(out))
	inputs := all[:0]
	for _, in := range all {
		if !slices.Contains(d.skip, in.AppName) {
			inputs = append(inputs, in)
		}
	}
	return inputs, nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	arg := strconv.Itoa(clampVolume(percent)) + "%"
	if _, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(id), arg); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

// fade moves all targets linearly to their end volume in 10ms steps.
func (d *Ducker) fade(ctx context.Context, targets []fadeTarget, dur time.Duration) error {
	if len(targets) == 0 {
		return nil
	}

	const stepDur = 10 * time.Millisecond
	steps := max(int(dur/stepDur), 1)
	if dur <= 0 {
		steps = 0
	}

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setVolume(ctx, t.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			time.Sleep(dur / time.Duration(steps))
		}
	}
	return nil
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput

	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				// application.name = "Firefox"
				_, rest, _ := strings.Cut(line, `"`)
				in.AppName, _, _ = strings.Cut(rest, `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}
