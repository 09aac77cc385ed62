// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "udprelay"

type evictReason string

const (
	evictStale      evictReason = "stale"
	evictSendFailed evictReason = "send_failed"
)

// Metrics holds the relay's prometheus collectors.
type Metrics struct {
	datagrams      *prometheus.CounterVec
	broadcastSends prometheus.Counter
	sendFailures   *prometheus.CounterVec
	heartbeatsSent prometheus.Counter
	evictions      *prometheus.CounterVec
	clients        prometheus.GaugeFunc

	clientCount atomic.Pointer[func() int]
}

// NewMetrics creates the collectors and registers them with reg, unless reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "datagrams_received_total",
			Help:      "Datagrams received from clients, by kind.",
		}, []string{"kind"}),
		broadcastSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_sends_total",
			Help:      "Send attempts made while broadcasting chat messages.",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_failures_total",
			Help:      "Failed sends, by operation.",
		}, []string{"op"}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeats sent by the sweep.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evictions_total",
			Help:      "Clients removed from the broadcast set, by reason.",
		}, []string{"reason"}),
	}

	m.clients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "clients",
		Help:      "Clients currently tracked.",
	}, m.clientsTracked)

	if reg != nil {
		reg.MustRegister(
			m.datagrams,
			m.broadcastSends,
			m.sendFailures,
			m.heartbeatsSent,
			m.evictions,
			m.clients,
		)
	}

	return m
}

// trackClients sets the source of the tracked clients gauge, read at collection time.
func (m *Metrics) trackClients(count func() int) {
	m.clientCount.Store(&count)
}

func (m *Metrics) clientsTracked() float64 {
	count := m.clientCount.Load()
	if count == nil {
		return 0
	}

	return float64((*count)())
}

func (m *Metrics) datagram(kind Kind) {
	m.datagrams.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) sendFailed(op string) {
	m.sendFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) evicted(reason evictReason) {
	m.evictions.WithLabelValues(string(reason)).Inc()
}
