package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "log/slog"

	"scribe/internal/config"
	"scribe/internal/metrics"
	"scribe/internal/proxy"
	"scribe/internal/scratch"
	"scribe/internal/server"
	"scribe/internal/speech"
	"scribe/pkg/audioconv"
	"scribe/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[cfg.Log.Level],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sd, err := scratch.New(cfg.Server.ScratchDir)
	if err != nil {
		log.Error("Failed to prepare scratch dir", "dir", cfg.Server.ScratchDir, "err", err)
		os.Exit(1)
	}

	log.Debug("Scratch dir ready", "dir", sd.Path())

	httpClient, err := proxy.NewHTTPClient(cfg.Model.Proxy, cfg.Model.Timeout)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.Model.Proxy, "err", err)
		os.Exit(1)
	}

	audioOpt := audioconv.Options{
		SampleRate: cfg.Audio.SampleRate,
		FFmpegPath: cfg.Audio.FFmpegPath,
	}
	engineCfg := stt.Config{
		Engine:     cfg.Model.Engine,
		ModelName:  cfg.Model.Name,
		ModelPath:  cfg.Model.Path,
		Language:   cfg.Model.Language,
		Threads:    cfg.Model.Threads,
		URL:        cfg.Model.URL,
		VocabPath:  cfg.Model.VocabPath,
		APIKey:     cfg.Model.APIKey,
		HTTPClient: httpClient,
		Timeout:    cfg.Model.Timeout,
	}

	m := metrics.New()
	svc := speech.New(speech.Options{
		Audio:   audioOpt,
		Device:  cfg.Model.Device,
		Metrics: m,
		Logger:  log.Default(),
	})
	defer svc.Close()

	// a failed load keeps the server up; /transcribe answers 503
	if err := svc.Load(ctx, func(ctx context.Context) (stt.Engine, error) {
		return stt.Open(ctx, engineCfg)
	}); err != nil {
		log.Error("Failed to load model on startup", "engine", cfg.Model.Engine, "err", err)
	}

	name, family := stt.Describe(engineCfg)
	srv, err := server.New(server.Options{
		Speech:    svc,
		Scratch:   sd,
		Metrics:   m,
		Upload:    cfg.Upload,
		Audio:     audioOpt,
		Logger:    log.Default(),
		ModelName: name,
		ModelType: family,
	})
	if err != nil {
		log.Error("Failed to build server", "err", err)
		os.Exit(1)
	}

	ln, err := server.Listen(cfg.Server.Host, cfg.Server.Port, cfg.Server.PortRangeEnd)
	if err != nil {
		log.Error("Failed to bind", "host", cfg.Server.Host, "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful")

	if err := srv.Serve(ctx, ln, 30*time.Second); err != nil {
		log.Error("Server stopped", "err", err)
		os.Exit(1)
	}
}
