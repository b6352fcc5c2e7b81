// Package server exposes the transcription service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"scribe/internal/config"
	"scribe/internal/metrics"
	"scribe/internal/scratch"
	"scribe/internal/speech"
	"scribe/pkg/audioconv"
)

type Options struct {
	Speech  *speech.Service
	Scratch *scratch.Dir
	Metrics *metrics.Metrics
	Upload  config.UploadConfig
	Audio   audioconv.Options
	Logger  *log.Logger

	// Reported by /models/info when no model is loaded.
	ModelName string
	ModelType string
}

type Server struct {
	speech  *speech.Service
	scratch *scratch.Dir
	metrics *metrics.Metrics
	upload  config.UploadConfig
	log     *log.Logger

	info    modelInfo
	handler http.Handler
}

type modelInfo struct {
	ModelName           string `json:"model_name"`
	ModelType           string `json:"model_type"`
	SupportedSampleRate string `json:"supported_sample_rate"`
	SupportedFormats    string `json:"supported_formats"`
}

func New(opt Options) (*Server, error) {
	if opt.Speech == nil {
		return nil, errors.New("server: speech service is required")
	}
	if opt.Scratch == nil {
		return nil, errors.New("server: scratch dir is required")
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.New()
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}

	s := &Server{
		speech:  opt.Speech,
		scratch: opt.Scratch,
		metrics: opt.Metrics,
		upload:  opt.Upload,
		log:     opt.Logger,
	}

	name, family, ok := opt.Speech.Model()
	if !ok {
		name, family = opt.ModelName, opt.ModelType
	}
	s.info = modelInfo{
		ModelName:           name,
		ModelType:           family,
		SupportedSampleRate: fmt.Sprintf("%d Hz", opt.Speech.SampleRate()),
		SupportedFormats:    strings.Join(audioconv.Formats(opt.Audio), ", "),
	}

	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.withMetrics("/", s.handleIndex))
	r.Get("/health", s.withMetrics("/health", s.handleHealth))
	r.Post("/transcribe", s.withMetrics("/transcribe", s.handleTranscribe))
	r.Get("/models/info", s.withMetrics("/models/info", s.handleModelInfo))
	r.Get("/ws/transcribe", s.withMetrics("/ws/transcribe", s.handleStream))
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds the first free port in [from, to] on host. Ports are bound
// directly so there is no window between checking and using a port.
func Listen(host string, from, to int) (net.Listener, error) {
	if to < from {
		to = from
	}

	var lastErr error
	for port := from; port <= to; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in %d-%d: %w", from, to, lastErr)
}

// Serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests for up to grace.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.NewLogLogger(s.log.Handler(), log.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
