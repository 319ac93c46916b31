package telemetry

import (
	"net/http"
	"strconv"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "sysfwd"

var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
	SetToCurrentTime()
}

// Vec types for labeled metrics
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

// NoopStat stands in for every metric until telemetry is initialized
type NoopStat struct{}

type noopCounterVec struct{}
type noopGaugeVec struct{}

func (n noopCounterVec) With(labels ...string) Counter { return NoopStat{} }
func (n noopGaugeVec) With(labels ...string) Gauge     { return NoopStat{} }

func (n NoopStat) Observe(float64)   {}
func (n NoopStat) Set(float64)       {}
func (n NoopStat) Inc()              {}
func (n NoopStat) Dec()              {}
func (n NoopStat) Add(float64)       {}
func (n NoopStat) Sub(float64)       {}
func (n NoopStat) SetToCurrentTime() {}

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p *prometheusGaugeVec) With(labelValues ...string) Gauge {
	return p.vec.WithLabelValues(labelValues...)
}

// constLabels tags every series with the forwarding instance
func constLabels() prometheus.Labels {
	return prometheus.Labels{
		"instance_id": strconv.FormatUint(cfg.Config.InstanceID, 10),
	}
}

func NewCounter(name string, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	})

	registry.MustRegister(ret)
	return ret
}

func NewGauge(name string, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	})

	registry.MustRegister(ret)
	return ret
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels(),
	})

	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels)

	registry.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

func NewGaugeVec(name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopGaugeVec{}
	}

	ret := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels)

	registry.MustRegister(ret)
	return &prometheusGaugeVec{vec: ret}
}

// InitializeTelemetry creates the registry and the forwarder metrics. Without
// it every metric stays a NoopStat.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()

	// Register process and Go runtime collectors for CPU/memory metrics
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	InitMetrics()

	log.Info().Msg("Prometheus metrics enabled - served by the admin listener at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics
// Returns nil if Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// resetForTest drops the registry and restores noop metrics
func resetForTest() {
	registry = nil
	resetMetrics()
}
