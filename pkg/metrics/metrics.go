// Package metrics exposes Prometheus collectors for the monitor loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "perchscale_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics bundles all collectors of the monitor. A nil *Metrics is valid and
// records nothing
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	autoZero        prometheus.Counter
	connectAttempts *prometheus.CounterVec
	readErrors      *prometheus.CounterVec
	sinkErrors      prometheus.Counter
	notifications   *prometheus.CounterVec
	batteryLevel    prometheus.Gauge
	occupied        prometheus.Gauge
	connected       prometheus.Gauge
}

// New creates and registers all collectors on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total occupancy events by kind",
			},
			[]string{"kind"},
		),
		autoZero: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "auto_zero_total",
			Help: "Total automatic re-zero operations",
		}),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connect_attempts_total",
				Help: "Total device connection attempts by result",
			},
			[]string{"result"},
		),
		readErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "read_errors_total",
				Help: "Total failed device readings by reading",
			},
			[]string{"reading"},
		),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "sink_errors_total",
			Help: "Total events that could not be written to the event log",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total low-battery notifications by result",
			},
			[]string{"result"},
		),
		batteryLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_level_percent",
			Help: "Last sampled battery level",
		}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "occupied",
			Help: "1 while an object rests on the sensor",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "connected",
			Help: "1 while the device is connected",
		}),
	}

	m.registry.MustRegister(
		m.events,
		m.autoZero,
		m.connectAttempts,
		m.readErrors,
		m.sinkErrors,
		m.notifications,
		m.batteryLevel,
		m.occupied,
		m.connected,
	)

	return m
}

// Handler returns an HTTP handler exposing the collectors
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEvent counts an occupancy event
func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// ObserveAutoZero counts a re-zero operation
func (m *Metrics) ObserveAutoZero() {
	if m == nil {
		return
	}
	m.autoZero.Inc()
}

// ObserveConnectAttempt counts a connection attempt
func (m *Metrics) ObserveConnectAttempt(err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result(err)).Inc()
}

// ObserveReadError counts a failed reading ("weight" or "battery")
func (m *Metrics) ObserveReadError(reading string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(reading).Inc()
}

// ObserveSinkError counts an event that could not be written
func (m *Metrics) ObserveSinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

// ObserveNotification counts a notification attempt
func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(err)).Inc()
}

// SetBatteryLevel records the last sampled battery level
func (m *Metrics) SetBatteryLevel(level float64) {
	if m == nil {
		return
	}
	m.batteryLevel.Set(level)
}

// SetOccupied records the occupancy state
func (m *Metrics) SetOccupied(occupied bool) {
	if m == nil {
		return
	}
	m.occupied.Set(boolToFloat(occupied))
}

// SetConnected records the connection state
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	m.connected.Set(boolToFloat(connected))
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
