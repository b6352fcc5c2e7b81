package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"scribe/internal/audio"
	"scribe/internal/client"
	"scribe/internal/notify"
	"scribe/internal/scratch"
	"scribe/pkg/audioconv"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

const usage = `Usage: scribe-ctl [flags] <command> [file]

Commands:
  health             print /health
  info               print /models/info
  wait               poll /health until the server answers
  transcribe <file>  upload a file and print the transcript
  stream <file>      upload a file over WebSocket and print the transcript
  record             record from the microphone until silence and transcribe

Flags:
`

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	url := cli.StringP("url", "u", "", "Server URL (default $SCRIBE_URL or http://localhost:8000)")
	timeout := cli.DurationP("timeout", "t", 5*time.Minute, "Request timeout")
	interval := cli.Duration("interval", time.Second, "Poll interval for wait")
	maxRecord := cli.Duration("max-record", 30*time.Second, "Longest recording")
	cue := cli.Bool("cue", true, "Play a tone when recording starts and stops")
	duck := cli.Bool("duck", false, "Lower other playback (pactl) while recording")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		cli.Usage()
		os.Exit(2)
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,
	})))

	godotenv.Load(*envFile)
	if *url == "" {
		*url = os.Getenv("SCRIBE_URL")
	}
	if *url == "" {
		*url = "http://localhost:8000"
	}

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(*url, nil)

	switch args[0] {
	case "health":
		var h client.Health
		if h, err = c.Health(ctx); err == nil {
			printJSON(h)
		}
	case "info":
		var info client.ModelInfo
		if info, err = c.Info(ctx); err == nil {
			printJSON(info)
		}
	case "wait":
		var h client.Health
		if h, err = c.Wait(ctx, *interval); err == nil {
			log.Info("Server is up", "model_status", h.ModelStatus, "device", h.Device)
		}
	case "transcribe":
		err = withFile(args, func(path string) error {
			res, err := c.TranscribeFile(ctx, path)
			if err == nil {
				fmt.Println(res.Transcription)
			}
			return err
		})
	case "stream":
		err = withFile(args, func(path string) error {
			text, err := c.StreamFile(ctx, path, *timeout)
			if err == nil {
				fmt.Println(text)
			}
			return err
		})
	case "record":
		err = record(ctx, c, recordOptions{maxDur: *maxRecord, cue: *cue, duck: *duck})
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		cli.Usage()
		os.Exit(2)
	}

	if err != nil {
		if client.IsUnavailable(err) {
			log.Error("Model not loaded on server", "url", *url)
		} else {
			log.Error("Command failed", "cmd", args[0], "err", err)
		}
		os.Exit(1)
	}
}

func parseLogLevel(s string) (log.Level, error) {
	level, ok := logLevelMap[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("invalid --log %q: must be one of debug, info, warn, error", s)
	}
	return level, nil
}

func withFile(args []string, f func(string) error) error {
	if len(args) < 2 {
		return fmt.Errorf("%s needs a file argument", args[0])
	}
	return f(args[1])
}

type recordOptions struct {
	maxDur time.Duration
	cue    bool
	duck   bool
}

func record(ctx context.Context, c *client.Client, opt recordOptions) error {
	rec := audio.NewRecorder(audio.RecorderOptions{MaxDuration: opt.maxDur})
	if err := rec.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer rec.Close()

	if opt.duck {
		d := audio.NewDucker([]string{"scribe-ctl"}, 10)
		if err := d.Duck(ctx, 0.3, 200*time.Millisecond); err != nil {
			log.Warn("Failed to duck playback", "err", err)
		}
		defer func() {
			if err := d.Restore(context.Background(), 200*time.Millisecond); err != nil {
				log.Warn("Failed to restore playback", "err", err)
			}
		}()
	}

	if opt.cue {
		if err := notify.Start(); err != nil {
			log.Debug("Cue failed", "err", err)
		}
	}

	log.Warn("Listening... (stops after a pause)")
	pcm, err := rec.RecordAuto(ctx)
	if opt.cue {
		if err := notify.Stop(); err != nil {
			log.Debug("Cue failed", "err", err)
		}
	}
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	log.Info("Recorded", "samples", len(pcm), "seconds", float64(len(pcm))/float64(rec.SampleRate()))

	sd, err := scratch.New(filepath.Join(os.TempDir(), "scribe-ctl"))
	if err != nil {
		return err
	}
	f, cleanup, err := sd.Create("record", ".wav")
	defer cleanup()
	if err != nil {
		return err
	}
	if err := audioconv.EncodeWAV(f, pcm, rec.SampleRate()); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	res, err := c.TranscribeFile(ctx, f.Name())
	if err != nil {
		return err
	}
	fmt.Println(res.Transcription)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
