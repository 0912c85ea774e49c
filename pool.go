package irbis

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/pior/irbis/transport"
)

// disconnectTimeout bounds the logout of a session being destroyed.
const disconnectTimeout = 5 * time.Second

// PoolConfig holds configuration for a session pool.
type PoolConfig struct {
	// MaxSize is the maximum number of sessions in the pool.
	// Required: must be > 0.
	MaxSize int32

	// NewTransport creates the transport of each new session.
	// If nil, sessions dial the Host:Port of the settings.
	NewTransport func() transport.Transport

	// Dialer is used by the default transport.
	Dialer *net.Dialer

	// RetryDelay is passed to the sessions, see Config.
	RetryDelay time.Duration

	// Logger receives diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Pool keeps logged-in sessions to one server for reuse.
type Pool struct {
	settings ConnectionSettings
	config   PoolConfig
	logger   *slog.Logger

	pool           *puddle.Pool[*Connection]
	stats          *statsCollector
	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

// NewPool creates an empty pool. Sessions are created and logged in on demand.
func NewPool(settings ConnectionSettings, config PoolConfig) (*Pool, error) {
	if config.MaxSize <= 0 {
		return nil, errors.New("irbis: pool MaxSize must be positive")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		settings: settings,
		config:   config,
		logger:   logger,
		stats:    newStatsCollector(),
	}

	poolConfig := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn := p.newConnection()
			if err := conn.Connect(ctx); err != nil {
				_ = conn.Close()
				return nil, err
			}
			p.createdConns.Add(1)
			return conn, nil
		},
		Destructor: func(conn *Connection) {
			p.destroyedConns.Add(1)
			ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			conn.Disconnect(ctx)
			_ = conn.Close()
		},
		MaxSize: config.MaxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

func (p *Pool) newConnection() *Connection {
	var t transport.Transport
	if p.config.NewTransport != nil {
		t = p.config.NewTransport()
	}

	conn := NewConnection(Config{
		Transport:  t,
		Dialer:     p.config.Dialer,
		RetryDelay: p.config.RetryDelay,
		Logger:     p.logger,
		stats:      p.stats,
	})
	p.settings.Apply(conn)
	return conn
}

// With runs fn with a session switched to database (the settings database
// when empty). Sessions that lost the server are destroyed instead of being
// returned to the pool.
func (p *Pool) With(ctx context.Context, database string, fn func(conn *Connection) error) error {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	conn := res.Value()
	if database == "" {
		database = p.settings.Database
	}
	conn.Database = database

	err = fn(conn)

	if !conn.Connected() || errors.Is(conn.LastError(), ErrNoResponse) {
		res.Destroy()
	} else {
		res.Release()
	}
	return err
}

// checkIdle sends a NoOp on every idle session and destroys those that fail.
// The server drops clients that stay silent too long.
func (p *Pool) checkIdle(ctx context.Context) {
	for _, res := range p.pool.AcquireAllIdle() {
		conn := res.Value()
		if ok, _ := conn.NoOp(ctx); !ok {
			p.logger.Warn("irbis: idle session failed health check", "host", conn.Host, "error", conn.LastError())
			res.Destroy()
			continue
		}
		res.ReleaseUnused()
	}
}

// Close destroys every session.
func (p *Pool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics by converting puddle's stats to our format.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()), // Acquires that had to wait (pool was empty)
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

// SessionStats returns the counters of every session the pool created.
func (p *Pool) SessionStats() ConnectionStats {
	return p.stats.snapshot()
}
