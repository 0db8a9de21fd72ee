// ============================================================================
// Cranium Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: Collects scheduler, workspace and tick metrics for Prometheus
//
// Metric families:
//
//   1. Counters (labelled by pool):
//      - cranium_processor_runs_total: Process calls handed to workers
//      - cranium_idle_fetches_total: fetches that found no processor with work
//      - cranium_processor_panics_total: Process calls that panicked
//
//   2. Counters (labelled by workspace):
//      - cranium_items_submitted_total: items routed by Submit
//      - cranium_items_delivered_total: successful queue insertions
//      - cranium_items_discarded_total: items rejected by a full queue
//      - cranium_listener_failures_total: listener errors during fan-out
//
//   3. Histograms:
//      - cranium_processor_run_seconds{pool}: duration of one Process call
//      - cranium_tick_seconds: wall time of one execute window
//
//   4. Gauges:
//      - cranium_pool_processors{pool,list}: to_execute / waiting / executed / executing
//      - cranium_pool_threads{pool}: configured worker threads
//      - cranium_tick: current tick number
//
// Example queries:
//
//   # share of fetches that found nothing to do
//   rate(cranium_idle_fetches_total[1m]) /
//     (rate(cranium_idle_fetches_total[1m]) + rate(cranium_processor_runs_total[1m]))
//
//   # 95th percentile run duration per pool
//   histogram_quantile(0.95, sum by (pool, le) (rate(cranium_processor_run_seconds_bucket[5m])))
//
// A nil *Collector is valid: every method is a no-op, so components can be
// built without instrumentation.
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rotation list names used as the "list" label.
const (
	ListToExecute = "to_execute"
	ListWaiting   = "waiting"
	ListExecuted  = "executed"
	ListExecuting = "executing"
)

// Collector Prometheus metric collector
type Collector struct {
	processorRuns   *prometheus.CounterVec
	idleFetches     *prometheus.CounterVec
	processorPanics *prometheus.CounterVec
	runLatency      *prometheus.HistogramVec

	itemsSubmitted   *prometheus.CounterVec
	itemsDelivered   *prometheus.CounterVec
	itemsDiscarded   *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec

	tickLatency prometheus.Histogram
	tick        prometheus.Gauge

	poolProcessors *prometheus.GaugeVec
	poolThreads    *prometheus.GaugeVec
}

// NewCollector creates the collector and registers it with
// prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith registers the collector with reg.
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	c := &Collector{
		processorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_processor_runs_total",
			Help: "Total number of processor runs handed to worker threads",
		}, []string{"pool"}),
		idleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_idle_fetches_total",
			Help: "Total number of fetches that found no processor with work",
		}, []string{"pool"}),
		processorPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_processor_panics_total",
			Help: "Total number of processor runs that panicked",
		}, []string{"pool"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cranium_processor_run_seconds",
			Help:    "Duration of a single processor run in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"pool"}),
		itemsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_items_submitted_total",
			Help: "Total number of items submitted to a workspace",
		}, []string{"workspace"}),
		itemsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_items_delivered_total",
			Help: "Total number of items accepted by a listener queue",
		}, []string{"workspace"}),
		itemsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_items_discarded_total",
			Help: "Total number of items rejected by a listener queue",
		}, []string{"workspace"}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cranium_listener_failures_total",
			Help: "Total number of listener failures during fan-out",
		}, []string{"workspace"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cranium_tick_seconds",
			Help:    "Wall time of one execution window in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cranium_tick",
			Help: "Current tick number",
		}),
		poolProcessors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cranium_pool_processors",
			Help: "Processors per rotation list",
		}, []string{"pool", "list"}),
		poolThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cranium_pool_threads",
			Help: "Configured worker threads per pool",
		}, []string{"pool"}),
	}

	reg.MustRegister(
		c.processorRuns,
		c.idleFetches,
		c.processorPanics,
		c.runLatency,
		c.itemsSubmitted,
		c.itemsDelivered,
		c.itemsDiscarded,
		c.listenerFailures,
		c.tickLatency,
		c.tick,
		c.poolProcessors,
		c.poolThreads,
	)

	return c
}

// RecordRun records one processor run on pool.
func (c *Collector) RecordRun(pool string, d time.Duration) {
	if c == nil {
		return
	}
	c.processorRuns.WithLabelValues(pool).Inc()
	c.runLatency.WithLabelValues(pool).Observe(d.Seconds())
}

// RecordIdleFetch records a fetch that found nothing to run.
func (c *Collector) RecordIdleFetch(pool string) {
	if c == nil {
		return
	}
	c.idleFetches.WithLabelValues(pool).Inc()
}

// RecordPanic records a processor run that panicked.
func (c *Collector) RecordPanic(pool string) {
	if c == nil {
		return
	}
	c.processorPanics.WithLabelValues(pool).Inc()
}

// RecordSubmit records one Submit call on workspace.
func (c *Collector) RecordSubmit(workspace string) {
	if c == nil {
		return
	}
	c.itemsSubmitted.WithLabelValues(workspace).Inc()
}

// RecordDelivery records the outcome of one listener insertion.
func (c *Collector) RecordDelivery(workspace string, accepted bool) {
	if c == nil {
		return
	}
	if accepted {
		c.itemsDelivered.WithLabelValues(workspace).Inc()
	} else {
		c.itemsDiscarded.WithLabelValues(workspace).Inc()
	}
}

// RecordListenerFailure records a listener error during fan-out.
func (c *Collector) RecordListenerFailure(workspace string) {
	if c == nil {
		return
	}
	c.listenerFailures.WithLabelValues(workspace).Inc()
}

// RecordTick records a finished execution window.
func (c *Collector) RecordTick(number int, d time.Duration) {
	if c == nil {
		return
	}
	c.tick.Set(float64(number))
	c.tickLatency.Observe(d.Seconds())
}

// UpdatePoolStats sets the rotation list sizes of pool.
func (c *Collector) UpdatePoolStats(pool string, toExecute, waiting, executed, executing int) {
	if c == nil {
		return
	}
	c.poolProcessors.WithLabelValues(pool, ListToExecute).Set(float64(toExecute))
	c.poolProcessors.WithLabelValues(pool, ListWaiting).Set(float64(waiting))
	c.poolProcessors.WithLabelValues(pool, ListExecuted).Set(float64(executed))
	c.poolProcessors.WithLabelValues(pool, ListExecuting).Set(float64(executing))
}

// SetThreads sets the configured worker count of pool.
func (c *Collector) SetThreads(pool string, n int) {
	if c == nil {
		return
	}
	c.poolThreads.WithLabelValues(pool).Set(float64(n))
}

// StartServer serves /metrics from gatherer on port until ctx is done.
func StartServer(ctx context.Context, port int, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
