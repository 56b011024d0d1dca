package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"course-subscription-service/internal/domain/model"
)

func init() {
	register(
		enrollmentsTotal,
		activationsTotal,
		cancellationsTotal,
		subscriptionsExpiredTotal,
		subscriptionsTotal,
	)
}

var (
	enrollmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enrollments_total",
			Help: "Total number of enrollment requests that created a pending subscription.",
		},
	)

	activationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_activations_total",
			Help: "Total number of pending->active transitions.",
		},
	)

	cancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_cancellations_total",
			Help: "Cancellations by mode (immediate / deferred).",
		},
		[]string{"mode"},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions transitioned by the expiry sweep.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncEnrollments() {
	enrollmentsTotal.Inc()
}

func IncActivations() {
	activationsTotal.Inc()
}

func IncCancellations(immediate bool) {
	mode := "deferred"
	if immediate {
		mode = "immediate"
	}
	cancellationsTotal.WithLabelValues(mode).Inc()
}

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusPending,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusCancelled,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusCompleted,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			subscriptionsTotal.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}
