package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeongseonghan/bersim/internal/sim"
)

// Metrics holds the Prometheus collectors of one server. Each server owns
// its registry so several can coexist in one process. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sweepsTotal   *prometheus.CounterVec // Finished sweeps by final status
	sweepsRunning prometheus.Gauge       // Sweeps currently executing
	sweepDuration prometheus.Histogram   // Wall time of executed sweeps
	trialsTotal   *prometheus.CounterVec // Trials simulated by channel variant
	cellsTotal    prometheus.Counter     // (variant, SNR) cells folded
	lastBER       *prometheus.GaugeVec   // BER of the most recent cell per variant
	wsClients     prometheus.Gauge       // Connected websocket clients
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bersim_sweeps_total",
				Help: "Sweeps that reached a terminal state, by status",
			},
			[]string{"status"},
		),
		sweepsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bersim_sweeps_running",
			Help: "Sweeps currently executing",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bersim_sweep_duration_seconds",
			Help:    "Wall time of executed sweeps",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		trialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bersim_trials_total",
				Help: "Monte-Carlo trials simulated, by channel variant",
			},
			[]string{"variant"},
		),
		cellsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bersim_cells_total",
			Help: "Completed (variant, SNR) cells",
		}),
		lastBER: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bersim_last_cell_ber",
				Help: "Bit error rate of the most recently completed cell",
			},
			[]string{"variant"},
		),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bersim_websocket_clients",
			Help: "Connected websocket clients",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) running(delta float64) {
	if m == nil {
		return
	}
	m.sweepsRunning.Add(delta)
}

func (m *Metrics) finished(status JobStatus, seconds float64) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(status.String()).Inc()
	if seconds > 0 {
		m.sweepDuration.Observe(seconds)
	}
}

func (m *Metrics) cell(c sim.CellDone) {
	if m == nil {
		return
	}
	v := c.Variant.String()
	m.trialsTotal.WithLabelValues(v).Add(float64(c.Point.Trials))
	m.cellsTotal.Inc()
	m.lastBER.WithLabelValues(v).Set(c.Point.BER)
}

func (m *Metrics) clients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
