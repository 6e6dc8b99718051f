package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrdersCreatedTotal counts persisted orders by whether a promo was applied.
	OrdersCreatedTotal *prometheus.CounterVec
	// OrderTransitionsTotal counts status transitions by target status.
	OrderTransitionsTotal *prometheus.CounterVec
	// PromoValidationsTotal counts promo evaluations by outcome reason.
	PromoValidationsTotal *prometheus.CounterVec
	// PromoRedemptionsTotal counts conditional usage increments by result.
	PromoRedemptionsTotal *prometheus.CounterVec
	// PickupTransitionsTotal counts pickup status changes by target status.
	PickupTransitionsTotal *prometheus.CounterVec
	// NotificationsPublishedTotal counts status fan-out publishes by result.
	NotificationsPublishedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrdersCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Count of orders created.",
		}, []string{"promo"})
		OrderTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Count of order status transitions by target status.",
		}, []string{"to"})
		PromoValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_validations_total",
			Help:      "Count of promo evaluations by outcome.",
		}, []string{"reason"})
		PromoRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_redemptions_total",
			Help:      "Count of promo usage increments by result.",
		}, []string{"result"})
		PickupTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pickup_transitions_total",
			Help:      "Count of pickup status changes by target status.",
		}, []string{"to"})
		NotificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Count of order status notifications published to the broker.",
		}, []string{"result"})

		for _, vec := range []**prometheus.CounterVec{
			&OrdersCreatedTotal,
			&OrderTransitionsTotal,
			&PromoValidationsTotal,
			&PromoRedemptionsTotal,
			&PickupTransitionsTotal,
			&NotificationsPublishedTotal,
		} {
			*vec = register(reg, *vec)
		}
	})
}

// IncCounter increments vec for labels when domain metrics are registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
