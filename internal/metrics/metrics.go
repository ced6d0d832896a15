// Package metrics exposes Prometheus metrics for the realtime fan-out layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/teamchat/internal/realtime"
)

const namespace = "teamchat"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// FanoutMetrics implements realtime.Observer with Prometheus counters.
type FanoutMetrics struct {
	Connects     prometheus.Counter
	Disconnects  prometheus.Counter
	Deliveries   prometheus.Counter
	SendFailures *prometheus.CounterVec
	Evictions    prometheus.Counter
}

var _ realtime.Observer = (*FanoutMetrics)(nil)

// NewFanoutMetrics creates and registers fan-out counters on reg.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	m := &FanoutMetrics{
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connects_total",
			Help:      "Total number of subscriptions registered.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "disconnects_total",
			Help:      "Total number of subscriptions removed.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Total number of frames accepted by subscriber connections.",
		}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "send_failures_total",
			Help:      "Total number of failed sends by outcome.",
		}, []string{"status"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "evictions_total",
			Help:      "Total number of subscriptions removed after a fatal send.",
		}),
	}

	reg.MustRegister(m.Connects, m.Disconnects, m.Deliveries, m.SendFailures, m.Evictions)
	return m
}

func (m *FanoutMetrics) Connected(realtime.ChannelID)    { m.Connects.Inc() }
func (m *FanoutMetrics) Disconnected(realtime.ChannelID) { m.Disconnects.Inc() }
func (m *FanoutMetrics) Delivered(realtime.ChannelID)    { m.Deliveries.Inc() }
func (m *FanoutMetrics) Evicted(realtime.ChannelID)      { m.Evictions.Inc() }

func (m *FanoutMetrics) SendFailed(_ realtime.ChannelID, status realtime.SendStatus) {
	m.SendFailures.WithLabelValues(status.String()).Inc()
}

// StatsSource reports the current registry size.
type StatsSource interface {
	Stats() realtime.Stats
}

// RegisterRegistryGauges exposes room and connection counts read from src at
// scrape time.
func RegisterRegistryGauges(reg prometheus.Registerer, src StatsSource) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Number of channels with at least one live subscriber.",
		}, func() float64 { return float64(src.Stats().Rooms) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Number of live subscriber connections.",
		}, func() float64 { return float64(src.Stats().Connections) }),
	)
}
