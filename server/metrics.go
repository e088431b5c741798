package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a received datagram produced no reply.
const (
	dropReasonMalformed    = "malformed"
	dropReasonUnclassified = "unclassified"
	dropReasonNoLease      = "no_lease"
	dropReasonOtherServer  = "other_server"
	dropReasonNoAction     = "no_action"
)

type serviceMetrics struct {
	packetsReceived  prometheus.Counter
	packetsDropped   *prometheus.CounterVec
	repliesSent      *prometheus.CounterVec
	leaseLookups     *prometheus.CounterVec
	transmitFailures prometheus.Counter
}

// Create the service's counters in the supplied registry.
func newServiceMetrics(registerer prometheus.Registerer) *serviceMetrics {
	factory := promauto.With(registerer)

	return &serviceMetrics{
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcpd",
			Name:      "packets_received_total",
			Help:      "Datagrams received on the served interface.",
		}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpd",
			Name:      "packets_dropped_total",
			Help:      "Datagrams that produced no reply, by reason.",
		}, []string{"reason"}),
		repliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpd",
			Name:      "replies_sent_total",
			Help:      "Replies broadcast to clients, by DHCP message type.",
		}, []string{"type"}),
		leaseLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpd",
			Name:      "lease_lookups_total",
			Help:      "Lease lookups, by outcome.",
		}, []string{"outcome"}),
		transmitFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcpd",
			Name:      "transmit_failures_total",
			Help:      "Replies that could not be sent.",
		}),
	}
}
