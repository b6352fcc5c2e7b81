package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

const sinkInputs = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #57
	Volume: front-left: 39322 /  60% / -13.31 dB,   front-right: 39322 /  60% / -13.31 dB
	Properties:
		application.name = "scribe-ctl"
Sink Input #oops
	Volume: 10%
`

type fakePactl struct {
	mu      sync.Mutex
	list    string
	listErr error
	volumes map[string]string // id -> last volume arg
	calls   int
}

func (f *fakePactl) run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch args[0] {
	case "list":
		return []byte(f.list), f.listErr
	case "set-sink-input-volume":
		f.calls++
		if f.volumes == nil {
			f.volumes = make(map[string]string)
		}
		f.volumes[args[1]] = args[2]
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected pactl %v", args)
}

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputs)
	want := []sinkInput{
		{ID: 41, Volume: 100, AppName: "Firefox"},
		{ID: 57, Volume: 60, AppName: "scribe-ctl"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("input %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if got := parseSinkInputs("no inputs here"); len(got) != 0 {
		t.Fatalf("empty listing parsed as %+v", got)
	}
}

func TestDuckAndRestore(t *testing.T) {
	f := &fakePactl{list: sinkInputs}
	d := NewDucker([]string{"scribe-ctl"}, 10)
	d.pactl = f.run

	if err := d.Duck(context.Background(), 0.25, 0); err != nil {
		t.Fatal(err)
	}
	if f.volumes["41"] != "25%" {
		t.Fatalf("firefox volume = %q", f.volumes["41"])
	}
	if _, touched := f.volumes["57"]; touched {
		t.Fatal("skipped application was ducked")
	}

	calls := f.calls
	if err := d.Duck(context.Background(), 0.1, 0); err != nil || f.calls != calls {
		t.Fatalf("second Duck not a no-op: err=%v calls=%d->%d", err, calls, f.calls)
	}

	f.list = strings.Replace(sinkInputs, "100%", "25%", 1)
	if err := d.Restore(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if f.volumes["41"] != "100%" {
		t.Fatalf("restored volume = %q", f.volumes["41"])
	}
}

func TestDuckRespectsFloor(t *testing.T) {
	f := &fakePactl{list: sinkInputs}
	d := NewDucker(nil, 30)
	d.pactl = f.run

	if err := d.Duck(context.Background(), 0.1, 0); err != nil {
		t.Fatal(err)
	}
	if f.volumes["41"] != "30%" || f.volumes["57"] != "30%" {
		t.Fatalf("volumes = %v", f.volumes)
	}
}

func TestDuckFadesInSteps(t *testing.T) {
	f := &fakePactl{list: sinkInputs}
	d := NewDucker([]string{"scribe-ctl"}, 0)
	d.pactl = f.run

	if err := d.Duck(context.Background(), 0.5, 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	// 3 steps plus the starting point
	if f.calls != 4 {
		t.Fatalf("set-volume calls = %d", f.calls)
	}
	if f.volumes["41"] != "50%" {
		t.Fatalf("final volume = %q", f.volumes["41"])
	}
}

func TestDuckListError(t *testing.T) {
	f := &fakePactl{listErr: errors.New("pactl not found")}
	d := NewDucker(nil, 0)
	d.pactl = f.run

	if err := d.Duck(context.Background(), 0.5, 0); err == nil {
		t.Fatal("expected error")
	}
	// a failed Duck leaves nothing to restore
	if err := d.Restore(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
}
