// Package metrics exposes Prometheus collectors for hub activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Directions used as label values.
const (
	DirectionSerial = "serial"
	DirectionCloud  = "cloud"
)

// Metrics holds the hub's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	telemetryAccepted   prometheus.Counter
	commandsRelayed     prometheus.Counter
	decodeErrors        *prometheus.CounterVec
	lookupMisses        *prometheus.CounterVec
	cloudWriteFailures  prometheus.Counter
	serialWriteFailures prometheus.Counter
	snapshots           *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec
	switchEnergy        *prometheus.GaugeVec
	switchCost          *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		telemetryAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homegrid_telemetry_samples_total",
			Help: "Telemetry samples applied to a known switch.",
		}),
		commandsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homegrid_commands_relayed_total",
			Help: "Cloud commands written to the serial link.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homegrid_decode_errors_total",
			Help: "Inbound messages dropped because they could not be decoded, by direction.",
		}, []string{"direction"}),
		lookupMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homegrid_lookup_misses_total",
			Help: "Messages dropped because no switch matched, by direction.",
		}, []string{"direction"}),
		cloudWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homegrid_cloud_write_failures_total",
			Help: "Cloud channel writes that failed.",
		}),
		serialWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homegrid_serial_write_failures_total",
			Help: "Commands that could not be written to the serial link.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homegrid_snapshots_total",
			Help: "Snapshot attempts by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homegrid_queue_depth",
			Help: "Items waiting in each hand-off queue.",
		}, []string{"queue"}),
		switchEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homegrid_switch_energy_kwh",
			Help: "Cumulative energy per switch.",
		}, []string{"mac"}),
		switchCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homegrid_switch_cost_dollars",
			Help: "Cumulative cost per switch.",
		}, []string{"mac"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.telemetryAccepted,
		m.commandsRelayed,
		m.decodeErrors,
		m.lookupMisses,
		m.cloudWriteFailures,
		m.serialWriteFailures,
		m.snapshots,
		m.queueDepth,
		m.switchEnergy,
		m.switchCost,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TelemetryAccepted(mac string, energyKWh, costDollars float64) {
	if m == nil {
		return
	}
	m.telemetryAccepted.Inc()
	m.switchEnergy.WithLabelValues(mac).Set(energyKWh)
	m.switchCost.WithLabelValues(mac).Set(costDollars)
}

func (m *Metrics) CommandRelayed() {
	if m == nil {
		return
	}
	m.commandsRelayed.Inc()
}

func (m *Metrics) DecodeError(direction string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(direction).Inc()
}

func (m *Metrics) LookupMiss(direction string) {
	if m == nil {
		return
	}
	m.lookupMisses.WithLabelValues(direction).Inc()
}

func (m *Metrics) CloudWriteFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cloudWriteFailures.Add(float64(n))
}

func (m *Metrics) SerialWriteFailure() {
	if m == nil {
		return
	}
	m.serialWriteFailures.Inc()
}

func (m *Metrics) Snapshot(success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.snapshots.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
