package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of the presence service. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	// Connections is the number of live websocket handles on this node.
	Connections prometheus.Gauge
	// OnlineUsers is the number of users with at least one handle on this node.
	OnlineUsers prometheus.Gauge

	// Dispatches counts dispatch outcomes.
	// Labels: event, result (delivered|absent|duplicate|failed|relayed)
	Dispatches *prometheus.CounterVec

	// ForceLogouts counts forced disconnects. Labels: result (pushed|absent)
	ForceLogouts *prometheus.CounterVec

	// SweptRows counts rows changed by sweepers. Labels: sweeper (inactivity|lock_expiry)
	SweptRows *prometheus.CounterVec
	// SweepDuration measures one sweeper run. Labels: sweeper
	SweepDuration *prometheus.HistogramVec

	// PresenceUpdates counts status writes. Labels: status, source (http|beacon|ws|hook), result (changed|noop|error)
	PresenceUpdates *prometheus.CounterVec

	// RelayMessages counts relay traffic. Labels: driver, direction (out|in), result (ok|error)
	RelayMessages *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppresence", Name: "ws_connections",
			Help: "Live websocket connections on this node.",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppresence", Name: "ws_online_users",
			Help: "Users with at least one live connection on this node.",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppresence", Name: "dispatch_total",
			Help: "Dispatch outcomes by event.",
		}, []string{"event", "result"}),
		ForceLogouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppresence", Name: "force_logout_total",
			Help: "Forced disconnects.",
		}, []string{"result"}),
		SweptRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppresence", Name: "sweeper_rows_total",
			Help: "Rows changed by background sweepers.",
		}, []string{"sweeper"}),
		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ppresence", Name: "sweeper_duration_seconds",
			Help:    "Sweeper run time.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"sweeper"}),
		PresenceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppresence", Name: "presence_updates_total",
			Help: "Presence status writes.",
		}, []string{"status", "source", "result"}),
		RelayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppresence", Name: "relay_messages_total",
			Help: "Cluster relay traffic.",
		}, []string{"driver", "direction", "result"}),
	}
}

func (m *Metrics) SetConnections(conns, users int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(conns))
	m.OnlineUsers.Set(float64(users))
}

func (m *Metrics) Dispatch(event, result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(event, result).Inc()
}

func (m *Metrics) ForceLogout(result string) {
	if m == nil {
		return
	}
	m.ForceLogouts.WithLabelValues(result).Inc()
}

func (m *Metrics) Swept(sweeper string, rows int64, took time.Duration) {
	if m == nil {
		return
	}
	m.SweptRows.WithLabelValues(sweeper).Add(float64(rows))
	m.SweepDuration.WithLabelValues(sweeper).Observe(took.Seconds())
}

func (m *Metrics) Presence(status, source, result string) {
	if m == nil {
		return
	}
	m.PresenceUpdates.WithLabelValues(status, source, result).Inc()
}

func (m *Metrics) Relay(driver, direction, result string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(driver, direction, result).Inc()
}
