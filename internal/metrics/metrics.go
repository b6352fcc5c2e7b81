package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Transcription metrics
	Transcriptions    *prometheus.CounterVec
	AudioDuration     prometheus.Histogram
	InferenceDuration prometheus.Histogram
	ModelLoaded       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_transcriptions_total",
			Help: "Transcription requests by result",
		}, []string{"result"}),
		AudioDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_audio_duration_seconds",
			Help:    "Duration of decoded audio in seconds",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_inference_duration_seconds",
			Help:    "Time spent in the model forward pass and decoding",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ModelLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_model_loaded",
			Help: "1 when the model is loaded and serving",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) RecordHTTPRequest(method, route string, code int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordTranscription(result string) {
	m.Transcriptions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAudio(samples, rate int) {
	if rate > 0 {
		m.AudioDuration.Observe(float64(samples) / float64(rate))
	}
}

func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceDuration.Observe(d.Seconds())
}

func (m *Metrics) SetModelLoaded(ok bool) {
	if ok {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}
