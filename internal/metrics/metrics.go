package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pool metrics
	PoolSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stagepool_pool_slots",
		Help: "Number of buffer slots in the pool",
	}, []string{"pool"})

	PoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stagepool_pool_buffers_in_use",
		Help: "Number of buffers currently loaned out",
	}, []string{"pool"})

	PoolCapacityBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stagepool_pool_capacity_bytes",
		Help: "Sum of buffer capacities held by the pool, sampled by the stats reporter",
	}, []string{"pool"})

	AcquireWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stagepool_acquire_wait_seconds",
		Help:    "Time spent waiting for a free buffer",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
	}, []string{"pool"})

	AcquireInterrupted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagepool_acquire_interrupted_total",
		Help: "Total number of acquisitions cancelled while waiting",
	}, []string{"pool"})

	ReleaseIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagepool_release_ignored_total",
		Help: "Total number of releases of buffers not tracked as in use",
	}, []string{"pool"})

	// Sink metrics
	BufferGrowth = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagepool_buffer_growth_total",
		Help: "Total number of buffer growth steps",
	}, []string{"pool"})

	SinkBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stagepool_sink_bytes",
		Help:    "Bytes staged per sink at close",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10), // 256B to 64MB
	}, []string{"pool"})

	// Copier metrics
	CopiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagepool_copies_total",
		Help: "Total number of value copies",
	}, []string{"codec", "result"})

	CopyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stagepool_copy_latency_seconds",
		Help:    "Copy latency in seconds, including buffer acquisition",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
	}, []string{"codec"})

	// Snapshot store metrics
	SnapshotOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagepool_snapshot_operations_total",
		Help: "Total number of snapshot store operations",
	}, []string{"op", "result"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stagepool_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})
)

// IncSnapshotOp increments the snapshot operation counter
func IncSnapshotOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SnapshotOps.WithLabelValues(op, result).Inc()
}
