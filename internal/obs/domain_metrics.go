package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTotal counts checkout session creation attempts by result.
	CheckoutTotal *prometheus.CounterVec
	// WebhookNotificationTotal counts inbound gateway notifications by outcome.
	WebhookNotificationTotal *prometheus.CounterVec
	// DispensePushTotal counts approval push attempts by result.
	DispensePushTotal *prometheus.CounterVec
	// MachineConnections tracks the number of identified push connections.
	MachineConnections prometheus.Gauge
	// StatusQueryTotal counts status polls by reported status.
	StatusQueryTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout session creation outcomes.",
		}, []string{"result"})
		WebhookNotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_notification_total",
			Help:      "Count of processed gateway notifications by outcome.",
		}, []string{"outcome"})
		DispensePushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispense_push_total",
			Help:      "Count of approval push deliveries by result.",
		}, []string{"result"})
		MachineConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machine_connections",
			Help:      "Number of currently identified machine push connections.",
		})
		StatusQueryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_query_total",
			Help:      "Count of status polls by reported status.",
		}, []string{"status"})

		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookNotificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookNotificationTotal = v
			}
		})
		mustRegisterCollector(reg, DispensePushTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DispensePushTotal = v
			}
		})
		mustRegisterCollector(reg, MachineConnections, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				MachineConnections = v
			}
		})
		mustRegisterCollector(reg, StatusQueryTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StatusQueryTotal = v
			}
		})
	})
}
