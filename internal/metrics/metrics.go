// Package metrics wires the engine, WAL and session layers to
// Prometheus collectors, grounded on tradSys's
// internal/trading/app.go metrics registration pattern.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine holds the collectors published by one engine shard.
type Engine struct {
	CommandsTotal      *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	MdPublishSeconds   prometheus.Histogram
}

// NewEngine registers and returns a shard's collector set against reg.
// shard labels every metric so per-shard registries can share one
// Prometheus registry.
func NewEngine(reg prometheus.Registerer, shard int) *Engine {
	labels := prometheus.Labels{"shard": strconv.Itoa(shard)}

	e := &Engine{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_commands_total",
			Help:        "Commands processed by this engine shard.",
			ConstLabels: labels,
		}, []string{"command"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_executions_total",
			Help:        "Executions produced by this engine shard, by symbol.",
			ConstLabels: labels,
		}, []string{"symbol"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "engine_queue_depth",
			Help:        "Pending commands buffered in this shard's channel.",
			ConstLabels: labels,
		}),
		MdPublishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "engine_md_publish_seconds",
			Help:        "Time spent publishing market data per tick.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(e.CommandsTotal, e.ExecutionsTotal, e.QueueDepth, e.MdPublishSeconds)
	return e
}

// WAL holds the collectors published by the write-ahead log.
type WAL struct {
	AppendSeconds prometheus.Histogram
	AppendsTotal  prometheus.Counter
	RotationsTotal prometheus.Counter
	BreakerOpenTotal prometheus.Counter
}

// NewWAL registers and returns the WAL's collector set against reg.
func NewWAL(reg prometheus.Registerer) *WAL {
	w := &WAL{
		AppendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wal_append_seconds",
			Help:    "Latency of WAL append+flush calls.",
			Buckets: prometheus.DefBuckets,
		}),
		AppendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wal_appends_total",
			Help: "Records appended to the write-ahead log.",
		}),
		RotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wal_rotations_total",
			Help: "Segment rotations performed.",
		}),
		BreakerOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wal_breaker_open_total",
			Help: "Times the append circuit breaker tripped open.",
		}),
	}

	reg.MustRegister(w.AppendSeconds, w.AppendsTotal, w.RotationsTotal, w.BreakerOpenTotal)
	return w
}
