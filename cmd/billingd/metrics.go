// metrics.go - Prometheus metrics for the billing daemon.
package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge billingd exports. nodeID labels
// every series so a shared scrape target distinguishes instances.
type Metrics struct {
	PeersKnown      prometheus.Gauge
	ConnectsHandled prometheus.Counter
	BillsComputed   prometheus.Counter
	BillingFailures prometheus.Counter
}

// NewMetrics registers a fresh metric set with reg under role/nodeID
// constant labels, matching how a single binary running either role
// reports to one shared Prometheus target.
func NewMetrics(reg prometheus.Registerer, role string, nodeID string) *Metrics {
	labels := prometheus.Labels{"role": role, "node_id": nodeID}
	m := &Metrics{
		PeersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billingd_peers_known",
			Help:        "Number of peers currently present in this node's table.",
			ConstLabels: labels,
		}),
		ConnectsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billingd_connects_handled_total",
			Help:        "Number of newly-discovered peers this node has registered via gossip.",
			ConstLabels: labels,
		}),
		BillsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billingd_bills_computed_total",
			Help:        "Number of billing cycles this edge has successfully computed (edge role only).",
			ConstLabels: labels,
		}),
		BillingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billingd_billing_failures_total",
			Help:        "Number of billing cycle computations that returned an error (edge role only).",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.PeersKnown, m.ConnectsHandled, m.BillsComputed, m.BillingFailures)
	return m
}
