package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняло расследование целиком
	InvestigationDuration *prometheus.HistogramVec

	// Traffic: принятые запросы анализа
	SessionsTotal *prometheus.CounterVec

	// Saturation: незавершенные сессии против потолка
	SessionsActive prometheus.Gauge

	// Сколько раундов валидации потребовалось до вердикта
	ValidationAttempts prometheus.Histogram

	// Errors: классификация отказов на приеме
	IntakeRejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		InvestigationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_investigation_duration_seconds",
			Help:    "Histogram of investigation durations.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"status"}),

		SessionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "triage_sessions_total",
			Help: "Total number of finished sessions by outcome.",
		}, []string{"outcome"}), // исходы: completed, escalated, failed

		SessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "triage_sessions_active",
			Help: "Current number of non-terminal sessions.",
		}),

		ValidationAttempts: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_validation_attempts",
			Help:    "Number of validation rounds per investigation.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		IntakeRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "triage_intake_rejected_total",
			Help: "Total number of rejected analyze requests by reason.",
		}, []string{"reason"}), // причины: source_blocked, too_many_sessions
	}
}
