package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records runs into a Store and into Prometheus metrics held by
// its own registry.
type Collector struct {
	store    *Store
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	imagesTotal  prometheus.Counter
	runDuration  prometheus.Histogram
	workerUp     *prometheus.GaugeVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector registers the photomaker metrics plus the Go runtime and
// process collectors.
func NewCollector(store *Store) *Collector {
	c := &Collector{
		store:    store,
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photomaker_runs_total",
			Help: "Generation runs by final status.",
		}, []string{"status"}),
		imagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photomaker_images_total",
			Help: "Images written across all runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "photomaker_run_duration_seconds",
			Help:    "Wall time of generation runs.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		workerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "photomaker_worker_up",
			Help: "1 when the last health check of the worker succeeded.",
		}, []string{"worker"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "photomaker_http_request_duration_seconds",
			Help:    "Web UI request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	c.registry.MustRegister(
		c.runsTotal,
		c.imagesTotal,
		c.runDuration,
		c.workerUp,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Store returns the in-memory store behind the collector.
func (c *Collector) Store() *Store {
	return c.store
}

// RecordRun records a finished run.
func (c *Collector) RecordRun(status string, duration time.Duration, images int) {
	c.store.RecordRun(RunRecord{Status: status, Duration: duration, Images: images})
	c.runsTotal.WithLabelValues(status).Inc()
	c.imagesTotal.Add(float64(images))
	c.runDuration.Observe(duration.Seconds())
}

// RecordWorker records a worker health check.
func (c *Collector) RecordWorker(status WorkerStatus) {
	c.store.UpdateWorker(status)
	up := 0.0
	if status.Healthy {
		up = 1
	}
	c.workerUp.WithLabelValues(status.Name).Set(up)
}

// ObserveHTTP records the latency of one web request.
func (c *Collector) ObserveHTTP(method, path string, d time.Duration) {
	c.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the registry for tests and additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
