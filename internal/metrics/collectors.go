package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mealboard"

// Collectors holds the Prometheus instruments of the live-update hub, the display pusher and the
// AI sorter. A nil *Collectors is valid and records nothing.
type Collectors struct {
	LiveClients      prometheus.Gauge
	Broadcasts       *prometheus.CounterVec
	DroppedClients   prometheus.Counter
	Pushes           *prometheus.CounterVec
	Sorts            *prometheus.CounterVec
	GeneratorLatency prometheus.Histogram
}

// NewCollectors registers the instruments with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		LiveClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "live_clients",
			Help:      "Number of connected live-update clients.",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "broadcasts_total",
			Help:      "Number of events broadcast, by event type.",
		}, []string{"type"}),
		DroppedClients: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_clients_total",
			Help:      "Number of clients removed after a failed write.",
		}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trmnl",
			Name:      "pushes_total",
			Help:      "Display push attempts, by outcome (pushed, unchanged, failed).",
		}, []string{"outcome"}),
		Sorts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shopping",
			Name:      "ai_sorts_total",
			Help:      "AI sort requests, by outcome (sorted, fallback, skipped).",
		}, []string{"outcome"}),
		GeneratorLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generate_seconds",
			Help:      "Latency of text generator calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
}

// ClientConnected increments the live client gauge.
func (c *Collectors) ClientConnected() {
	if c != nil {
		c.LiveClients.Inc()
	}
}

// ClientDisconnected decrements the live client gauge.
func (c *Collectors) ClientDisconnected() {
	if c != nil {
		c.LiveClients.Dec()
	}
}

// Broadcast counts one broadcast of eventType.
func (c *Collectors) Broadcast(eventType string) {
	if c != nil {
		c.Broadcasts.WithLabelValues(eventType).Inc()
	}
}

// ClientDropped counts a client removed after a failed write.
func (c *Collectors) ClientDropped() {
	if c != nil {
		c.DroppedClients.Inc()
	}
}

// Push counts a display push with the given outcome.
func (c *Collectors) Push(outcome string) {
	if c != nil {
		c.Pushes.WithLabelValues(outcome).Inc()
	}
}

// Sort counts an AI sort with the given outcome.
func (c *Collectors) Sort(outcome string) {
	if c != nil {
		c.Sorts.WithLabelValues(outcome).Inc()
	}
}

// ObserveGenerator records the latency of a generator call in seconds.
func (c *Collectors) ObserveGenerator(seconds float64) {
	if c != nil {
		c.GeneratorLatency.Observe(seconds)
	}
}
