// Package vfsmetrics exposes Prometheus counters, histograms, and gauges for
// the dispatcher, delegation pool, and caches, grounded on objectfs's
// internal/metrics.Collector but scoped to the VFS core's own surface: one
// counter/histogram pair per op_* opcode rather than a generic "operation"
// label, plus delegation-queue depth and open/attr-cache size gauges.
package vfsmetrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether and where the collector exposes its registry.
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
}

// DefaultConfig returns the collector configuration used absent an
// explicit override.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "vfscore",
	}
}

// Collector is the core's Prometheus metrics surface. It is safe for
// concurrent use by the dispatcher's network threads and the delegation
// pool's worker goroutines.
type Collector struct {
	config   *Config
	registry *prometheus.Registry
	server   *http.Server

	opCounter        *prometheus.CounterVec
	opDuration       *prometheus.HistogramVec
	opSize           *prometheus.HistogramVec
	cacheCounter     *prometheus.CounterVec
	cacheSizeGauge   *prometheus.GaugeVec
	delegationDepth  *prometheus.GaugeVec
	delegationActive *prometheus.GaugeVec
	openHandleGauge  prometheus.Gauge
	errorCounter     *prometheus.CounterVec
}

// New creates a Collector from the given configuration, initializing and
// registering every metric up front so RecordOperation et al. never need to
// check for a nil pointer mid-dispatch.
func New(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.opCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "op_total",
		Help:      "Total number of op_* dispatches, by opcode and result status.",
	}, []string{"opcode", "status"})

	c.opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "op_duration_seconds",
		Help:      "Dispatch-to-completion latency of op_* calls, by opcode.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"opcode"})

	c.opSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "op_bytes",
		Help:      "Bytes transferred by read/write op_* calls.",
		Buckets:   prometheus.ExponentialBuckets(512, 2, 22),
	}, []string{"opcode"})

	c.cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups, by cache name and hit/miss.",
	}, []string{"cache", "result"})

	c.cacheSizeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "cache_entries",
		Help:      "Current entry count, by cache name.",
	}, []string{"cache"})

	c.delegationDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "delegation_queue_depth",
		Help:      "Pending requests in each delegation worker's intake queue.",
	}, []string{"worker"})

	c.delegationActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "delegation_workers_busy",
		Help:      "1 if the worker is currently executing a blocking dispatch, else 0.",
	}, []string{"worker"})

	c.openHandleGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "open_handles",
		Help:      "Number of entries currently resident in the open-handle cache.",
	})

	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "errors_total",
		Help:      "Errors returned by op_* dispatches, by opcode and error code.",
	}, []string{"opcode", "code"})

	collectors := []prometheus.Collector{
		c.opCounter, c.opDuration, c.opSize,
		c.cacheCounter, c.cacheSizeGauge,
		c.delegationDepth, c.delegationActive,
		c.openHandleGauge, c.errorCounter,
	}
	for _, m := range collectors {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// Start launches the /metrics HTTP listener. A no-op if the collector is
// disabled.
func (c *Collector) Start(ctx context.Context) error {
	if c.config == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("vfsmetrics: server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP listener.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOp records one op_* completion: its opcode, wall-clock duration,
// byte count (0 if not applicable), and whether it succeeded.
func (c *Collector) RecordOp(opcode string, duration time.Duration, bytes int64, code string) {
	if c.config == nil || !c.config.Enabled {
		return
	}

	status := "ok"
	if code != "" && code != "OK" {
		status = "error"
		c.errorCounter.WithLabelValues(opcode, code).Inc()
	}

	c.opCounter.WithLabelValues(opcode, status).Inc()
	c.opDuration.WithLabelValues(opcode).Observe(duration.Seconds())
	if bytes > 0 {
		c.opSize.WithLabelValues(opcode).Observe(float64(bytes))
	}
}

// RecordCacheHit records a cache hit for the named cache ("attr", "name",
// "open").
func (c *Collector) RecordCacheHit(cache string) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.cacheCounter.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss records a cache miss for the named cache.
func (c *Collector) RecordCacheMiss(cache string) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.cacheCounter.WithLabelValues(cache, "miss").Inc()
}

// SetCacheEntries reports the current resident entry count for the named
// cache.
func (c *Collector) SetCacheEntries(cache string, count int) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.cacheSizeGauge.WithLabelValues(cache).Set(float64(count))
}

// SetOpenHandles reports the open-handle cache's current size.
func (c *Collector) SetOpenHandles(count int) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.openHandleGauge.Set(float64(count))
}

// SetDelegationQueueDepth reports a single delegation worker's intake
// queue depth.
func (c *Collector) SetDelegationQueueDepth(worker string, depth int) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.delegationDepth.WithLabelValues(worker).Set(float64(depth))
}

// SetDelegationWorkerBusy reports whether a delegation worker is currently
// executing a blocking dispatch.
func (c *Collector) SetDelegationWorkerBusy(worker string, busy bool) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	v := 0.0
	if busy {
		v = 1.0
	}
	c.delegationActive.WithLabelValues(worker).Set(v)
}
