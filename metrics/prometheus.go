// Package metrics exposes the Prometheus surface for the market core:
// orders, matching latency, book depth, trades and settlement lifecycle
// transitions, plus the websocket feed's connection/message counters.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds every metric the market core emits.
type Collector struct {
	// Order metrics
	OrdersTotal   *prometheus.CounterVec
	OrdersActive  *prometheus.GaugeVec
	OrderFillRate *prometheus.HistogramVec
	OrderLatency  *prometheus.HistogramVec

	// Matching engine metrics
	MatchingLatency *prometheus.HistogramVec
	FillsPerMatch   *prometheus.HistogramVec
	OrderbookDepth  *prometheus.GaugeVec
	SpreadBps       *prometheus.GaugeVec

	// Trade metrics
	TradesTotal  *prometheus.CounterVec
	TradeVolume  *prometheus.CounterVec

	// Settlement lifecycle metrics
	SettlementTransitionsTotal *prometheus.CounterVec
	SettlementDelaySeconds     *prometheus.HistogramVec
	ProofVerificationsTotal    *prometheus.CounterVec

	// Escrow metrics
	EscrowOperationsTotal *prometheus.CounterVec
	EscrowLockedTotal     *prometheus.GaugeVec

	// WebSocket feed metrics
	WSConnectionsActive *prometheus.GaugeVec
	WSMessagesTotal     *prometheus.CounterVec
}

// GetCollector returns the process-wide singleton collector, constructing
// and registering it on first use.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Total number of orders placed, by side/type/outcome",
		},
		[]string{"market_id", "side", "type", "status"},
	)

	c.OrdersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "p2pmarket",
			Subsystem: "orders",
			Name:      "active",
			Help:      "Number of resting orders",
		},
		[]string{"market_id", "side"},
	)

	c.OrderFillRate = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "p2pmarket",
			Subsystem: "orders",
			Name:      "fill_rate",
			Help:      "Filled fraction of a taker order (0-1)",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1.0},
		},
		[]string{"market_id", "type"},
	)

	c.OrderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "p2pmarket",
			Subsystem: "orders",
			Name:      "latency_ms",
			Help:      "Order placement processing latency in milliseconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		},
		[]string{"market_id", "type"},
	)

	c.MatchingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "p2pmarket",
			Subsystem: "matching",
			Name:      "latency_ms",
			Help:      "Matching engine crossing-loop latency in milliseconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"market_id"},
	)

	c.FillsPerMatch = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "p2pmarket",
			Subsystem: "matching",
			Name:      "fills_per_match",
			Help:      "Number of fills produced by a single match call",
			Buckets:   []float64{1, 2, 5, 10, 25, 50},
		},
		[]string{"market_id"},
	)

	c.OrderbookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "p2pmarket",
			Subsystem: "orderbook",
			Name:      "depth",
			Help:      "Number of distinct resting price levels",
		},
		[]string{"market_id", "side"},
	)

	c.SpreadBps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "p2pmarket",
			Subsystem: "orderbook",
			Name:      "spread_bps",
			Help:      "Best-ask-minus-best-bid distance in basis points of mid price",
		},
		[]string{"market_id"},
	)

	c.TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "trades",
			Name:      "total",
			Help:      "Total number of fills reported through RecordMatch",
		},
		[]string{"market_id"},
	)

	c.TradeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "trades",
			Name:      "volume_base_units",
			Help:      "Total base-token quantity filled, as reported through RecordMatch",
		},
		[]string{"market_id"},
	)

	c.SettlementTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "settlement",
			Name:      "transitions_total",
			Help:      "Trade lifecycle transitions, by resulting state",
		},
		[]string{"market_id", "state"},
	)

	c.SettlementDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "p2pmarket",
			Subsystem: "settlement",
			Name:      "delay_seconds",
			Help:      "Wall-clock seconds between payment mark and successful verification",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 3600},
		},
		[]string{"market_id"},
	)

	c.ProofVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "settlement",
			Name:      "proof_verifications_total",
			Help:      "Settlement proof verification attempts, by outcome",
		},
		[]string{"market_id", "outcome"},
	)

	c.EscrowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow vault operations, by kind (deposit, refund, release)",
		},
		[]string{"token_mint", "op"},
	)

	c.EscrowLockedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "p2pmarket",
			Subsystem: "escrow",
			Name:      "locked_total",
			Help:      "Total base-token quantity held in an escrow vault",
		},
		[]string{"token_mint"},
	)

	c.WSConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "p2pmarket",
			Subsystem: "feed",
			Name:      "ws_connections_active",
			Help:      "Number of subscribed book-feed websocket connections",
		},
		[]string{"market_id"},
	)

	c.WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p2pmarket",
			Subsystem: "feed",
			Name:      "ws_messages_total",
			Help:      "Total book-feed events broadcast",
		},
		[]string{"event_type"},
	)

	c.registerAll()
	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(
		c.OrdersTotal,
		c.OrdersActive,
		c.OrderFillRate,
		c.OrderLatency,
		c.MatchingLatency,
		c.FillsPerMatch,
		c.OrderbookDepth,
		c.SpreadBps,
		c.TradesTotal,
		c.TradeVolume,
		c.SettlementTransitionsTotal,
		c.SettlementDelaySeconds,
		c.ProofVerificationsTotal,
		c.EscrowOperationsTotal,
		c.EscrowLockedTotal,
		c.WSConnectionsActive,
		c.WSMessagesTotal,
	)
}

// RecordOrder records a placed order's terminal disposition for this call
// (rested, filled, rejected, ...).
func (c *Collector) RecordOrder(marketID, side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(marketID, side, orderType, status).Inc()
}

// RecordOrderLatency records order placement processing latency.
func (c *Collector) RecordOrderLatency(marketID, orderType string, latencyMs float64) {
	c.OrderLatency.WithLabelValues(marketID, orderType).Observe(latencyMs)
}

// RecordFillRate records the filled fraction of a taker order.
func (c *Collector) RecordFillRate(marketID, orderType string, rate float64) {
	c.OrderFillRate.WithLabelValues(marketID, orderType).Observe(rate)
}

// RecordMatch records a completed match call: its latency, the fill
// count it produced, and the resulting trade volume.
func (c *Collector) RecordMatch(marketID string, latencyMs float64, fills int, volume uint64) {
	c.MatchingLatency.WithLabelValues(marketID).Observe(latencyMs)
	c.FillsPerMatch.WithLabelValues(marketID).Observe(float64(fills))
	if fills > 0 {
		c.TradesTotal.WithLabelValues(marketID).Add(float64(fills))
		c.TradeVolume.WithLabelValues(marketID).Add(float64(volume))
	}
}

// RecordBookState records current depth and spread after a book mutation.
func (c *Collector) RecordBookState(marketID string, bidLevels, askLevels int, spreadBps float64) {
	c.OrderbookDepth.WithLabelValues(marketID, "bid").Set(float64(bidLevels))
	c.OrderbookDepth.WithLabelValues(marketID, "ask").Set(float64(askLevels))
	c.SpreadBps.WithLabelValues(marketID).Set(spreadBps)
}

// RecordSettlementTransition records a trade lifecycle state change.
func (c *Collector) RecordSettlementTransition(marketID, state string) {
	c.SettlementTransitionsTotal.WithLabelValues(marketID, state).Inc()
}

// RecordProofVerification records a settlement proof verification
// attempt and, on success, the elapsed delay since the payment mark.
func (c *Collector) RecordProofVerification(marketID, outcome string, delaySeconds float64) {
	c.ProofVerificationsTotal.WithLabelValues(marketID, outcome).Inc()
	if outcome == "verified" {
		c.SettlementDelaySeconds.WithLabelValues(marketID).Observe(delaySeconds)
	}
}

// RecordEscrow records one vault operation and the vault's resulting
// locked balance.
func (c *Collector) RecordEscrow(tokenMint, op string, lockedTotal uint64) {
	c.EscrowOperationsTotal.WithLabelValues(tokenMint, op).Inc()
	c.EscrowLockedTotal.WithLabelValues(tokenMint).Set(float64(lockedTotal))
}

// RecordWSConnection adjusts the active websocket connection gauge for a
// market (delta is +1 on register, -1 on unregister).
func (c *Collector) RecordWSConnection(marketID string, delta int) {
	c.WSConnectionsActive.WithLabelValues(marketID).Add(float64(delta))
}

// RecordWSMessage records one broadcast feed event.
func (c *Collector) RecordWSMessage(eventType string) {
	c.WSMessagesTotal.WithLabelValues(eventType).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a latency observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds.
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}
