package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PipelineMetrics struct {
	// Saturation: заполненность буфера (backpressure)
	BufferFill prometheus.Gauge

	// Errors: сколько событий потеряно (overflow + исчерпание ретраев)
	Dropped prometheus.Counter

	// Traffic: доставленные и сброшенные батчи
	Batches *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &PipelineMetrics{
		BufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "triage_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),

		Dropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "triage_audit_events_dropped_total",
			Help: "Total number of audit events dropped (overflow or delivery exhaustion).",
		}),

		Batches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "triage_audit_batches_total",
			Help: "Total number of audit batches by delivery result.",
		}, []string{"result"}), // результаты: delivered, dropped
	}
}
