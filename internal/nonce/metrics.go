package nonce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the nonce manager collectors. A nil *Metrics records nothing.
type Metrics struct {
	Fills        *prometheus.CounterVec
	Sends        *prometheus.CounterVec
	Recoveries   *prometheus.CounterVec
	CountQueries *prometheus.CounterVec
	Next         *prometheus.GaugeVec
}

// NewMetrics registers the nonce manager collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nonce_manager_fills_total",
				Help: "Total number of fill calls by result",
			},
			[]string{"address", "result"},
		),
		Sends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nonce_manager_sends_total",
				Help: "Total number of send calls by result",
			},
			[]string{"address", "result"},
		),
		Recoveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nonce_manager_stale_recoveries_total",
				Help: "Sends retried after the remote transaction count moved past the local nonce",
			},
			[]string{"address", "result"},
		),
		CountQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nonce_manager_count_queries_total",
				Help: "Remote transaction count queries by reason",
			},
			[]string{"address", "reason"},
		),
		Next: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nonce_manager_next_nonce",
				Help: "Next nonce the manager will assign",
			},
			[]string{"address"},
		),
	}
}

func (m *Metrics) fill(addr, result string) {
	if m == nil {
		return
	}
	m.Fills.WithLabelValues(addr, result).Inc()
}

func (m *Metrics) send(addr, result string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(addr, result).Inc()
}

func (m *Metrics) recovery(addr, result string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(addr, result).Inc()
}

func (m *Metrics) countQuery(addr, reason string) {
	if m == nil {
		return
	}
	m.CountQueries.WithLabelValues(addr, reason).Inc()
}

func (m *Metrics) setNext(addr string, n uint64) {
	if m == nil {
		return
	}
	m.Next.WithLabelValues(addr).Set(float64(n))
}
