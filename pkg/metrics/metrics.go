// Package metrics exposes a dedicated Prometheus registry carrying the
// fleet's operational counters and gauges over an HTTP /metrics
// endpoint.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics this module emits on a registry of its
// own, so an embedding process can serve them alongside its own
// metrics without namespace collisions.
type Registry struct {
	registry *prometheus.Registry

	FaultsDetected    *prometheus.CounterVec
	HealingAttempts   *prometheus.CounterVec
	HealingDuration   prometheus.Histogram
	AdapterQueueDepth prometheus.Gauge
	AdapterReconnects prometheus.Counter
	TilesByStatus     *prometheus.GaugeVec

	server *http.Server
}

// NewRegistry creates and registers every metric this module emits.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		FaultsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilefleet",
			Name:      "faults_detected_total",
			Help:      "Faults observed by the detector, labeled by fault_type and severity.",
		}, []string{"fault_type", "severity"}),
		HealingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilefleet",
			Name:      "healing_attempts_total",
			Help:      "Healing orchestration attempts, labeled by outcome.",
		}, []string{"outcome"}),
		HealingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tilefleet",
			Name:      "healing_duration_seconds",
			Help:      "Wall-clock duration of a healing orchestration attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		AdapterQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tilefleet",
			Name:      "adapter_queue_depth",
			Help:      "Number of messages currently buffered in the HAL adapter's inbound queue.",
		}),
		AdapterReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tilefleet",
			Name:      "adapter_reconnects_total",
			Help:      "Number of times the HAL adapter has reconnected to the simulator.",
		}),
		TilesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tilefleet",
			Name:      "tiles_by_status",
			Help:      "Number of tiles currently in each status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		r.FaultsDetected,
		r.HealingAttempts,
		r.HealingDuration,
		r.AdapterQueueDepth,
		r.AdapterReconnects,
		r.TilesByStatus,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return r
}

// Serve starts an HTTP server exposing this registry's metrics at
// /metrics on addr. It returns immediately; call Shutdown to stop it.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	r.server = &http.Server{Handler: mux}
	go r.server.Serve(ln)
	return nil
}

// Shutdown gracefully stops the metrics HTTP server, if running.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// RecordFault increments the fault counter for a fault_type/severity pair.
func (r *Registry) RecordFault(faultType, severity string) {
	r.FaultsDetected.WithLabelValues(faultType, severity).Inc()
}

// RecordHealingAttempt increments the healing outcome counter and
// observes the attempt's duration.
func (r *Registry) RecordHealingAttempt(outcome string, duration time.Duration) {
	r.HealingAttempts.WithLabelValues(outcome).Inc()
	r.HealingDuration.Observe(duration.Seconds())
}

// SetAdapterQueueDepth records the HAL adapter's current inbound queue depth.
func (r *Registry) SetAdapterQueueDepth(depth int) {
	r.AdapterQueueDepth.Set(float64(depth))
}

// RecordReconnect increments the adapter reconnect counter.
func (r *Registry) RecordReconnect() {
	r.AdapterReconnects.Inc()
}

// SetTileCounts overwrites the tiles_by_status gauge vector with the
// current counts, zeroing statuses that went missing in this snapshot.
func (r *Registry) SetTileCounts(counts map[string]int) {
	for _, status := range []string{"ok", "degraded", "failed", "isolated", "spare"} {
		r.TilesByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}
