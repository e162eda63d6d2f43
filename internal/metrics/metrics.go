// Package metrics exposes server counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "simplehttp"

type Metrics struct {
	reg *prometheus.Registry

	connections *prometheus.CounterVec
	active      prometheus.Gauge
	requests    *prometheus.CounterVec
	frameErrors *prometheus.CounterVec
	duration    prometheus.Histogram
	uploaded    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by outcome.",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by method and status code.",
		}, []string{"method", "status"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Requests rejected before dispatch, by reason.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from first byte read to response written.",
			Buckets:   prometheus.DefBuckets,
		}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Image bytes stored by uploads.",
		}),
	}
	m.reg.MustRegister(
		m.connections, m.active, m.requests, m.frameErrors, m.duration, m.uploaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("accepted").Inc()
}

func (m *Metrics) ConnectionRateLimited() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("rate_limited").Inc()
}

// ConnectionOpened bumps the active gauge; call the returned func on close.
func (m *Metrics) ConnectionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.active.Inc()
	return m.active.Dec
}

// methodLabel keeps label cardinality bounded.
func methodLabel(method string) string {
	switch method {
	case "GET", "POST":
		return method
	default:
		return "OTHER"
	}
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(methodLabel(method), strconv.Itoa(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) FrameError(kind string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) UploadedBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.uploaded.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
