// Package promexporter exposes client statistics as Prometheus metrics.
package promexporter

import (
	"github.com/pior/irbis"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by *irbis.Client.
type StatsSource interface {
	Stats() []irbis.ServerPoolStats
}

// Collector reads the client stats at every scrape.
type Collector struct {
	source StatsSource

	poolSessions     *prometheus.Desc
	poolAcquires     *prometheus.Desc
	poolAcquireWaits *prometheus.Desc
	poolAcquireErrs  *prometheus.Desc
	poolWaitSeconds  *prometheus.Desc
	poolCreated      *prometheus.Desc
	poolDestroyed    *prometheus.Desc

	commands          *prometheus.Desc
	transportFailures *prometheus.Desc
	protocolErrors    *prometheus.Desc
	logins            *prometheus.Desc
	collisions        *prometheus.Desc
	bytes             *prometheus.Desc

	circuitState    *prometheus.Desc
	circuitRequests *prometheus.Desc
	circuitFailures *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	server := []string{"server"}
	return &Collector{
		source: source,

		poolSessions: prometheus.NewDesc("irbis_pool_sessions",
			"Pooled sessions by state", []string{"server", "state"}, nil), // total, active, idle
		poolAcquires: prometheus.NewDesc("irbis_pool_acquires_total",
			"Session acquisitions", server, nil),
		poolAcquireWaits: prometheus.NewDesc("irbis_pool_acquire_waits_total",
			"Acquisitions that waited for a session", server, nil),
		poolAcquireErrs: prometheus.NewDesc("irbis_pool_acquire_errors_total",
			"Canceled acquisitions", server, nil),
		poolWaitSeconds: prometheus.NewDesc("irbis_pool_acquire_wait_seconds_total",
			"Time spent waiting for a session", server, nil),
		poolCreated: prometheus.NewDesc("irbis_pool_sessions_created_total",
			"Sessions logged in", server, nil),
		poolDestroyed: prometheus.NewDesc("irbis_pool_sessions_destroyed_total",
			"Sessions discarded", server, nil),

		commands: prometheus.NewDesc("irbis_commands_total",
			"Round trips attempted", server, nil),
		transportFailures: prometheus.NewDesc("irbis_transport_failures_total",
			"Round trips without a usable response", server, nil),
		protocolErrors: prometheus.NewDesc("irbis_protocol_errors_total",
			"Failing server return codes", server, nil),
		logins: prometheus.NewDesc("irbis_logins_total",
			"Successful logins", server, nil),
		collisions: prometheus.NewDesc("irbis_client_id_collisions_total",
			"Logins repeated because the client id was taken", server, nil),
		bytes: prometheus.NewDesc("irbis_bytes_total",
			"Bytes exchanged with the server", []string{"server", "direction"}, nil), // sent, received

		circuitState: prometheus.NewDesc("irbis_circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)", server, nil),
		circuitRequests: prometheus.NewDesc("irbis_circuit_breaker_requests",
			"Requests counted by the circuit breaker in the current generation", server, nil),
		circuitFailures: prometheus.NewDesc("irbis_circuit_breaker_failures",
			"Circuit breaker failure counts", []string{"server", "type"}, nil), // total, consecutive
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.poolSessions, c.poolAcquires, c.poolAcquireWaits, c.poolAcquireErrs,
		c.poolWaitSeconds, c.poolCreated, c.poolDestroyed,
		c.commands, c.transportFailures, c.protocolErrors, c.logins, c.collisions, c.bytes,
		c.circuitState, c.circuitRequests, c.circuitFailures,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}
	counter := func(desc *prometheus.Desc, value uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), labels...)
	}

	for _, s := range c.source.Stats() {
		p := s.PoolStats
		gauge(c.poolSessions, float64(p.TotalConns), s.Addr, "total")
		gauge(c.poolSessions, float64(p.ActiveConns), s.Addr, "active")
		gauge(c.poolSessions, float64(p.IdleConns), s.Addr, "idle")
		counter(c.poolAcquires, p.AcquireCount, s.Addr)
		counter(c.poolAcquireWaits, p.AcquireWaitCount, s.Addr)
		counter(c.poolAcquireErrs, p.AcquireErrors, s.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolWaitSeconds, prometheus.CounterValue,
			float64(p.AcquireWaitTimeNs)/1e9, s.Addr)
		counter(c.poolCreated, p.CreatedConns, s.Addr)
		counter(c.poolDestroyed, p.DestroyedConns, s.Addr)

		sess := s.Sessions
		counter(c.commands, sess.Commands, s.Addr)
		counter(c.transportFailures, sess.TransportFailures, s.Addr)
		counter(c.protocolErrors, sess.ProtocolErrors, s.Addr)
		counter(c.logins, sess.Logins, s.Addr)
		counter(c.collisions, sess.ClientIDCollisions, s.Addr)
		counter(c.bytes, sess.BytesSent, s.Addr, "sent")
		counter(c.bytes, sess.BytesReceived, s.Addr, "received")

		if !s.HasCircuitBreaker {
			continue
		}
		gauge(c.circuitState, float64(s.CircuitBreakerState), s.Addr)
		gauge(c.circuitRequests, float64(s.CircuitBreakerCounts.Requests), s.Addr)
		gauge(c.circuitFailures, float64(s.CircuitBreakerCounts.TotalFailures), s.Addr, "total")
		gauge(c.circuitFailures, float64(s.CircuitBreakerCounts.ConsecutiveFailures), s.Addr, "consecutive")
	}
}
