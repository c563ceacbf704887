// Package metrics exposes Prometheus collectors for polls, presence and
// connected clients. Every method is safe on a nil *Metrics, so callers and
// tests that do not care about metrics can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livestatus"

// Metrics holds all collectors.
type Metrics struct {
	PollsTotal     *prometheus.CounterVec
	PollDuration   *prometheus.HistogramVec
	NextPollDelay  *prometheus.GaugeVec
	PresenceActive *prometheus.GaugeVec
	SessionSeconds *prometheus.GaugeVec
	WSClients      prometheus.Gauge
	ViewsPublished prometheus.Counter
	DiscordUpdates *prometheus.CounterVec
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all metrics with registerer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Source polls by outcome",
			},
			[]string{"source", "outcome"},
		),
		PollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Source poll duration in seconds, retries included",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"source"},
		),
		NextPollDelay: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "next_poll_delay_seconds",
				Help:      "Delay chosen by the polling policy for the next poll",
			},
			[]string{"source"},
		),
		PresenceActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "presence_active",
				Help:      "1 while the activity has an active session",
			},
			[]string{"activity"},
		),
		SessionSeconds: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_elapsed_seconds",
				Help:      "Elapsed seconds of the current session, 0 when inactive",
			},
			[]string{"activity"},
		),
		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Connected WebSocket clients",
			},
		),
		ViewsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "views_published_total",
				Help:      "Presence views published after deduplication",
			},
		),
		DiscordUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discord_updates_total",
				Help:      "Discord Rich Presence updates by result",
			},
			[]string{"result"},
		),
	}
}

// ObservePoll records one completed poll.
func (m *Metrics) ObservePoll(source, outcome string, took, next time.Duration) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(source, outcome).Inc()
	m.PollDuration.WithLabelValues(source).Observe(took.Seconds())
	m.NextPollDelay.WithLabelValues(source).Set(next.Seconds())
}

// SetPresence records an activity's state.
func (m *Metrics) SetPresence(activity string, active bool, elapsed int64) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.PresenceActive.WithLabelValues(activity).Set(v)
	m.SessionSeconds.WithLabelValues(activity).Set(float64(elapsed))
}

// ClientConnected adjusts the WebSocket client gauge by delta.
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}

// ViewPublished counts one published view.
func (m *Metrics) ViewPublished() {
	if m == nil {
		return
	}
	m.ViewsPublished.Inc()
}

// DiscordUpdate counts one Discord update attempt; result is "ok", "error"
// or "cleared".
func (m *Metrics) DiscordUpdate(result string) {
	if m == nil {
		return
	}
	m.DiscordUpdates.WithLabelValues(result).Inc()
}
