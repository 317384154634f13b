package metrics

import (
	"time"

	"smc-engine/internal/model"
	"smc-engine/internal/smc"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the order block engine.
type Metrics struct {
	BarsTotal         *prometheus.CounterVec // labels: tf
	PeeksTotal        prometheus.Counter
	PivotsTotal       *prometheus.CounterVec // labels: tf, kind
	BlocksBuilt       *prometheus.CounterVec // labels: tf, side
	BlocksInvalidated *prometheus.CounterVec // labels: tf, side
	BlocksPruned      *prometheus.CounterVec // labels: tf
	HistoryClamps     *prometheus.CounterVec // labels: tf
	ComputeDur        prometheus.Histogram
	Detectors         prometheus.Gauge

	// Delivery
	WSClients            prometheus.Gauge
	RingBufOverflow      prometheus.Counter
	PELMessagesReclaimed prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedUpdates     prometheus.Gauge

	// Checkpoints and reloads
	SnapshotsTotal *prometheus.CounterVec // labels: store, result
	ConfigReloads  *prometheus.CounterVec // labels: source
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_bars_total",
			Help: "Closed bars processed (by timeframe)",
		}, []string{"tf"}),
		PeeksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smcengine_peeks_total",
			Help: "Forming bars previewed",
		}),
		PivotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_pivots_total",
			Help: "Swing pivots recorded (by timeframe and kind)",
		}, []string{"tf", "kind"}),
		BlocksBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_blocks_built_total",
			Help: "Order blocks created (by timeframe and side)",
		}, []string{"tf", "side"}),
		BlocksInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_blocks_invalidated_total",
			Help: "Order blocks broken by a close (by timeframe and side)",
		}, []string{"tf", "side"}),
		BlocksPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_blocks_pruned_total",
			Help: "Order blocks dropped by the ledger bound",
		}, []string{"tf"}),
		HistoryClamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_history_clamps_total",
			Help: "Builder scans cut short by the bounded bar history",
		}, []string{"tf"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smcengine_compute_duration_seconds",
			Help:    "Detector latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		Detectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smcengine_detectors",
			Help: "Live detectors across all timeframes",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smcengine_ws_clients",
			Help: "Connected websocket clients",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smcengine_ringbuf_overflow_total",
			Help: "Forming bars dropped because the peek ring was full",
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smcengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smcengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smcengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedUpdates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smcengine_redis_buffered_updates",
			Help: "Confirmed updates held locally while Redis is unavailable",
		}),

		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_snapshots_total",
			Help: "Engine checkpoints written (by store and result)",
		}, []string{"store", "result"}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smcengine_config_reloads_total",
			Help: "Detector config reloads (by source)",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.PeeksTotal,
		m.PivotsTotal,
		m.BlocksBuilt,
		m.BlocksInvalidated,
		m.BlocksPruned,
		m.HistoryClamps,
		m.ComputeDur,
		m.Detectors,
		m.WSClients,
		m.RingBufOverflow,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedUpdates,
		m.SnapshotsTotal,
		m.ConfigReloads,
	)

	return m
}

// ObserveBar records one processed closed bar.
func (m *Metrics) ObserveBar(tf int, elapsed time.Duration) {
	m.BarsTotal.WithLabelValues(model.Itoa(tf)).Inc()
	m.ComputeDur.Observe(elapsed.Seconds())
}

// ObserveSnapshot records a checkpoint write to store ("redis" or "sqlite").
func (m *Metrics) ObserveSnapshot(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SnapshotsTotal.WithLabelValues(store, result).Inc()
}

// ForTF returns a detector observer that counts events under the TF label.
func (m *Metrics) ForTF(tf int) smc.Observer {
	label := model.Itoa(tf)
	return &tfObserver{
		pivotHigh:  m.PivotsTotal.WithLabelValues(label, "high"),
		pivotLow:   m.PivotsTotal.WithLabelValues(label, "low"),
		builtBuy:   m.BlocksBuilt.WithLabelValues(label, string(model.SideBuy)),
		builtSell:  m.BlocksBuilt.WithLabelValues(label, string(model.SideSell)),
		brokenBuy:  m.BlocksInvalidated.WithLabelValues(label, string(model.SideBuy)),
		brokenSell: m.BlocksInvalidated.WithLabelValues(label, string(model.SideSell)),
		pruned:     m.BlocksPruned.WithLabelValues(label),
		clamps:     m.HistoryClamps.WithLabelValues(label),
	}
}

// tfObserver holds curried counters so the per-bar path skips label lookups.
type tfObserver struct {
	pivotHigh, pivotLow   prometheus.Counter
	builtBuy, builtSell   prometheus.Counter
	brokenBuy, brokenSell prometheus.Counter
	pruned                prometheus.Counter
	clamps                prometheus.Counter
}

func (o *tfObserver) PivotRecorded(kind smc.PivotKind, _ smc.Pivot) {
	if kind == smc.PivotHigh {
		o.pivotHigh.Inc()
		return
	}
	o.pivotLow.Inc()
}

func (o *tfObserver) BlockBuilt(ob model.OrderBlock) {
	if ob.Side == model.SideBuy {
		o.builtBuy.Inc()
		return
	}
	o.builtSell.Inc()
}

func (o *tfObserver) BlockInvalidated(ob model.OrderBlock) {
	if ob.Side == model.SideBuy {
		o.brokenBuy.Inc()
		return
	}
	o.brokenSell.Inc()
}

func (o *tfObserver) BlocksPruned(n int) { o.pruned.Add(float64(n)) }

func (o *tfObserver) HistoryClamped(int, int) { o.clamps.Inc() }
