package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	Transitions            *prometheus.CounterVec
	ProvisioningCalls      *prometheus.CounterVec
	ProvisioningLatency    *prometheus.HistogramVec
	AvailabilityRejections prometheus.Counter
	NotificationFailures   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_reservation_transitions_total",
			Help: "Reservation transitions by action and outcome",
		}, []string{"action", "outcome"}),
		ProvisioningCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_provisioning_calls_total",
			Help: "Meeting provisioning attempts by operation and outcome",
		}, []string{"op", "outcome"}),
		ProvisioningLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teleconsult_provisioning_call_duration_seconds",
			Help:    "Latency of meeting provisioning attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		AvailabilityRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_slot_availability_rejections_total",
			Help: "Proposed slots rejected for falling outside clinic hours",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_notification_failures_total",
			Help: "Status change notifications that could not be handed off",
		}),
	}
}

func (m *Metrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveProvisioning(op string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProvisioningCalls.WithLabelValues(op, outcome).Inc()
	m.ProvisioningLatency.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) IncrementAvailabilityRejections() {
	if m == nil {
		return
	}
	m.AvailabilityRejections.Inc()
}

func (m *Metrics) IncrementNotificationFailures() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}
