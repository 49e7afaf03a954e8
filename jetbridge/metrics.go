package jetbridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects consumer and bridge counters on a caller-supplied
// registerer; no global state. A nil *Metrics is a valid no-op, so
// instrumentation stays optional.
type Metrics struct {
	handledTotal    *prometheus.CounterVec
	handledDuration prometheus.Histogram
	dispatchTotal   *prometheus.CounterVec
	connectRetries  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetbridge_messages_handled_total",
				Help: "Messages handled by the consumer callback, by verdict",
			},
			[]string{"verdict"},
		),
		handledDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jetbridge_handle_duration_seconds",
				Help:    "Time spent in the consumer callback",
				Buckets: prometheus.DefBuckets,
			},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetbridge_ack_dispatch_total",
				Help: "Acknowledgement network calls, by action and status",
			},
			[]string{"action", "status"},
		),
		connectRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jetbridge_connect_retries_total",
				Help: "Connect attempts that failed and were retried",
			},
		),
	}

	reg.MustRegister(m.handledTotal, m.handledDuration, m.dispatchTotal, m.connectRetries)

	return m
}

func (m *Metrics) recordHandled(v Verdict, d time.Duration) {
	if m == nil {
		return
	}
	m.handledTotal.WithLabelValues(v.String()).Inc()
	m.handledDuration.Observe(d.Seconds())
}

func (m *Metrics) recordDispatch(action AckAction, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dispatchTotal.WithLabelValues(action.String(), status).Inc()
}

func (m *Metrics) recordRetry() {
	if m == nil {
		return
	}
	m.connectRetries.Inc()
}
