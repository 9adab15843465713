package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters and gauges for the board client and the backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	feedConnects   *prometheus.CounterVec
	feedMessages   *prometheus.CounterVec
	feedConnected  prometheus.Gauge
	dispatches     *prometheus.CounterVec
	boardCards     *prometheus.GaugeVec
	waitingTables  prometheus.Gauge
	hubConnections *prometheus.GaugeVec
	hubBroadcasts  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		feedConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kds",
			Subsystem: "feed",
			Name:      "connect_attempts_total",
			Help:      "Order feed connection attempts by outcome.",
		}, []string{"outcome"}),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kds",
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Order feed messages by kind.",
		}, []string{"kind"}),
		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kds",
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the order feed is connected.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kds",
			Subsystem: "dispatch",
			Name:      "actions_total",
			Help:      "Board actions sent to the backend by action and outcome.",
		}, []string{"action", "outcome"}),
		boardCards: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kds",
			Subsystem: "board",
			Name:      "cards",
			Help:      "Cards currently on the board by view.",
		}, []string{"view"}),
		waitingTables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kds",
			Subsystem: "waitlist",
			Name:      "tables",
			Help:      "Tables reported as waiting by the last poll.",
		}),
		hubConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kdsd",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open feed connections per kitchen center.",
		}, []string{"center"}),
		hubBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kdsd",
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Feed messages queued per kitchen center by outcome.",
		}, []string{"center", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.feedConnects,
			m.feedMessages,
			m.feedConnected,
			m.dispatches,
			m.boardCards,
			m.waitingTables,
			m.hubConnections,
			m.hubBroadcasts,
		)
	}

	return m
}

// FeedConnect records a connection attempt
func (m *Metrics) FeedConnect(ok bool) {
	if m == nil {
		return
	}
	m.feedConnects.WithLabelValues(outcome(ok)).Inc()
}

// FeedStatus tracks the connection indicator
func (m *Metrics) FeedStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.feedConnected.Set(1)
		return
	}
	m.feedConnected.Set(0)
}

// FeedMessage counts one inbound message. kind is "order", "payment_due" or "malformed".
func (m *Metrics) FeedMessage(kind string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(kind).Inc()
}

// Dispatch counts a board action round-trip
func (m *Metrics) Dispatch(action, result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(action, result).Inc()
}

// BoardCards sets the card gauge for a view
func (m *Metrics) BoardCards(view string, n int) {
	if m == nil {
		return
	}
	m.boardCards.WithLabelValues(view).Set(float64(n))
}

// WaitingTables sets the waiting tables gauge
func (m *Metrics) WaitingTables(n int) {
	if m == nil {
		return
	}
	m.waitingTables.Set(float64(n))
}

// HubConnections sets the open connection gauge for a center
func (m *Metrics) HubConnections(center string, n int) {
	if m == nil {
		return
	}
	m.hubConnections.WithLabelValues(center).Set(float64(n))
}

// HubBroadcast counts a message queued (or dropped) for a connection
func (m *Metrics) HubBroadcast(center string, queued bool) {
	if m == nil {
		return
	}
	result := "queued"
	if !queued {
		result = "dropped"
	}
	m.hubBroadcasts.WithLabelValues(center, result).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
