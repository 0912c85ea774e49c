package irbis

import (
	"sync/atomic"
)

// PoolStats contains statistics about a session pool.
// All fields are safe for concurrent access.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total sessions created
	DestroyedConns    uint64 // Total sessions destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Sessions in pool (active + idle)
	IdleConns   int32 // Idle sessions available
	ActiveConns int32 // Sessions currently in use
}

// ConnectionStats contains counters of a session, or of every session of a
// pool.
type ConnectionStats struct {
	Commands           uint64 // Round trips attempted
	TransportFailures  uint64 // Round trips without a usable response
	ProtocolErrors     uint64 // Failing return codes
	Logins             uint64 // Successful Connect calls
	ClientIDCollisions uint64 // Logins repeated with a new client id
	BytesSent          uint64
	BytesReceived      uint64
	_                  uint64 // Padding to align to 64 bytes
}

// statsCollector provides internal methods for updating session stats.
// Not exported - connections update their own stats.
type statsCollector struct {
	stats *ConnectionStats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		stats: &ConnectionStats{},
	}
}

func (c *statsCollector) recordCommand(sent int) {
	atomic.AddUint64(&c.stats.Commands, 1)
	atomic.AddUint64(&c.stats.BytesSent, uint64(sent))
}

func (c *statsCollector) recordReceived(n int) {
	atomic.AddUint64(&c.stats.BytesReceived, uint64(n))
}

func (c *statsCollector) recordTransportFailure() {
	atomic.AddUint64(&c.stats.TransportFailures, 1)
}

func (c *statsCollector) recordProtocolError() {
	atomic.AddUint64(&c.stats.ProtocolErrors, 1)
}

func (c *statsCollector) recordLogin() {
	atomic.AddUint64(&c.stats.Logins, 1)
}

func (c *statsCollector) recordCollision() {
	atomic.AddUint64(&c.stats.ClientIDCollisions, 1)
}

func (c *statsCollector) snapshot() ConnectionStats {
	return ConnectionStats{
		Commands:           atomic.LoadUint64(&c.stats.Commands),
		TransportFailures:  atomic.LoadUint64(&c.stats.TransportFailures),
		ProtocolErrors:     atomic.LoadUint64(&c.stats.ProtocolErrors),
		Logins:             atomic.LoadUint64(&c.stats.Logins),
		ClientIDCollisions: atomic.LoadUint64(&c.stats.ClientIDCollisions),
		BytesSent:          atomic.LoadUint64(&c.stats.BytesSent),
		BytesReceived:      atomic.LoadUint64(&c.stats.BytesReceived),
	}
}
