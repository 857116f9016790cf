package metrics

import (
	"net/http"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "custodyd"

const (
	subsystemOperation  = "operation"
	subsystemMonitor    = "monitor"
	subsystemSettlement = "settlement"
)

type collector struct {
	operationTransitions *prometheus.CounterVec
	monitorPolls         *prometheus.CounterVec
	monitorsActive       prometheus.Gauge
	settlements          *prometheus.CounterVec
}

// NewCollector registers the engine metrics on reg.
func NewCollector(reg prometheus.Registerer) ports.Metrics {
	factory := promauto.With(reg)

	return &collector{
		operationTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemOperation,
			Name:      "transitions_total",
			Help:      "the number of operation status transitions, by type and target status",
		}, []string{"type", "status"}),

		monitorPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "polls_total",
			Help:      "the number of provider task polls, by outcome",
		}, []string{"outcome"}),

		monitorsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "active",
			Help:      "the number of reconciliation monitors currently running",
		}),

		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSettlement,
			Name:      "completed_total",
			Help:      "the number of bid settlements, by outcome",
		}, []string{"outcome"}),
	}
}

func (c *collector) OperationTransitioned(opType, status string) {
	c.operationTransitions.WithLabelValues(opType, status).Inc()
}

func (c *collector) MonitorPolled(outcome string) {
	c.monitorPolls.WithLabelValues(outcome).Inc()
}

func (c *collector) MonitorsActive(delta int) {
	c.monitorsActive.Add(float64(delta))
}

func (c *collector) SettlementCompleted(outcome string) {
	c.settlements.WithLabelValues(outcome).Inc()
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
