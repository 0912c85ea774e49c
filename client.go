package irbis

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/pior/irbis/retry"
	"github.com/pior/irbis/transport"
	"github.com/sony/gobreaker/v2"
)

// ClientConfig holds configuration for the multi-server client.
type ClientConfig struct {
	// Servers lists host:port addresses. If empty, the Host:Port of the
	// settings is the only server.
	Servers []string

	// MaxSize is the maximum number of sessions per server.
	// Required: must be > 0.
	MaxSize int32

	// SelectServer picks the server for a database.
	// If nil, uses DefaultServerSelector (Jump Hash over xxh3).
	SelectServer ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when its pool is created; the breaker
	// is shared by every session to that server.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) *gobreaker.CircuitBreaker[[]byte]

	// RetryLimit retries failed exchanges up to this many times.
	// Zero disables retries.
	RetryLimit int

	// RetryDelay is slept between retries.
	RetryDelay time.Duration

	// HealthCheckInterval is how often idle sessions are pinged with NoOp.
	// It should be shorter than the server confirmation interval.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is the net.Dialer used to reach servers.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Logger receives diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// for testing purposes only
	newTransport func(addr string) transport.Transport
}

// serverPool wraps a pool with its server address.
type serverPool struct {
	addr    string
	pool    *Pool
	breaker *gobreaker.CircuitBreaker[[]byte] // nil if not configured
}

// Client spreads databases over several IRBIS servers and keeps a pool of
// logged-in sessions for each.
type Client struct {
	settings     ConnectionSettings
	servers      []string
	selectServer ServerSelector
	config       ClientConfig
	logger       *slog.Logger

	mu    sync.RWMutex
	pools map[string]*serverPool

	stopHealthCheck chan struct{}
	closeOnce       sync.Once
}

// NewClient creates a client. No connection is made until the first With.
func NewClient(settings ConnectionSettings, config ClientConfig) (*Client, error) {
	if config.MaxSize <= 0 {
		return nil, errors.New("irbis: MaxSize must be positive")
	}

	defaults := DefaultSettings()
	if settings.Host == "" {
		settings.Host = defaults.Host
	}
	if settings.Port == 0 {
		settings.Port = defaults.Port
	}
	if settings.Database == "" {
		settings.Database = defaults.Database
	}
	if settings.Workstation == "" {
		settings.Workstation = defaults.Workstation
	}

	servers := slices.Clone(config.Servers)
	if len(servers) == 0 {
		servers = []string{net.JoinHostPort(settings.Host, strconv.Itoa(settings.Port))}
	}
	for _, addr := range servers {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, err
		}
	}

	selectServer := config.SelectServer
	if selectServer == nil {
		selectServer = DefaultServerSelector
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{
		settings:        settings,
		servers:         servers,
		selectServer:    selectServer,
		config:          config,
		logger:          logger,
		pools:           make(map[string]*serverPool),
		stopHealthCheck: make(chan struct{}),
	}

	// Start health check goroutine if enabled
	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close stops health checks and destroys every session of every pool.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, sp := range c.pools {
			sp.pool.Close()
		}
	})
}

// With runs fn with a session of the server that handles database (the
// settings database when empty). The session is switched to database.
func (c *Client) With(ctx context.Context, database string, fn func(conn *Connection) error) error {
	if database == "" {
		database = c.settings.Database
	}
	sp, err := c.getPoolForDatabase(database)
	if err != nil {
		return err
	}
	return sp.pool.With(ctx, database, fn)
}

// ServerFor returns the address of the server that handles database.
func (c *Client) ServerFor(database string) string {
	return c.servers[c.selectServer(database, len(c.servers))]
}

func (c *Client) getPoolForDatabase(database string) (*serverPool, error) {
	return c.getOrCreatePool(c.ServerFor(database))
}

// getOrCreatePool gets or creates a pool for the given server address.
func (c *Client) getOrCreatePool(addr string) (*serverPool, error) {
	// Fast path: read lock
	c.mu.RLock()
	sp, exists := c.pools[addr]
	c.mu.RUnlock()
	if exists {
		return sp, nil
	}

	// Slow path: write lock and create
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if sp, exists := c.pools[addr]; exists {
		return sp, nil
	}

	sp, err := c.createPool(addr)
	if err != nil {
		return nil, err
	}
	c.pools[addr] = sp
	return sp, nil
}

// createPool creates a session pool for a server. Every session gets its own
// transport chain; the breaker is shared.
func (c *Client) createPool(addr string) (*serverPool, error) {
	var breaker *gobreaker.CircuitBreaker[[]byte]
	if c.config.NewCircuitBreaker != nil {
		breaker = c.config.NewCircuitBreaker(addr)
	}

	newTransport := func() transport.Transport {
		var base transport.Transport
		if c.config.newTransport != nil {
			base = c.config.newTransport(addr)
		} else {
			base = transport.NewSocketTransport(addr, c.config.Dialer)
		}

		b := transport.NewBuilder(base).WithLogger(c.logger)
		if c.config.RetryLimit > 0 {
			m := retry.NewManager(c.config.RetryLimit, c.config.RetryDelay, transport.Transient)
			m.Logger = c.logger
			b.WithRetry(m)
		}
		if breaker != nil {
			b.WithBreaker(breaker)
		}
		t, err := b.Build()
		if err != nil {
			// Only fault injection can fail to build; it is not configured here.
			panic(err)
		}
		return t
	}

	settings := c.settings
	host, port, _ := net.SplitHostPort(addr)
	settings.Host = host
	settings.Port, _ = strconv.Atoi(port)
	settings.RetryLimit = 0

	pool, err := NewPool(settings, PoolConfig{
		MaxSize:      c.config.MaxSize,
		NewTransport: newTransport,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, err
	}

	return &serverPool{
		addr:    addr,
		pool:    pool,
		breaker: breaker,
	}, nil
}

// healthCheckLoop periodically checks idle sessions.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

// checkAllPools runs health checks on all existing pools
func (c *Client) checkAllPools() {
	c.mu.RLock()
	pools := make([]*serverPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	c.mu.RUnlock()

	for _, sp := range pools {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
		sp.pool.checkIdle(ctx)
		cancel()
	}
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	Sessions             ConnectionStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
	HasCircuitBreaker    bool
}

// Stats returns stats for all server pools, ordered by address.
func (c *Client) Stats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		s := ServerPoolStats{
			Addr:      sp.addr,
			PoolStats: sp.pool.Stats(),
			Sessions:  sp.pool.SessionStats(),
		}
		if sp.breaker != nil {
			s.HasCircuitBreaker = true
			s.CircuitBreakerState = sp.breaker.State()
			s.CircuitBreakerCounts = sp.breaker.Counts()
		}
		stats = append(stats, s)
	}
	slices.SortFunc(stats, func(a, b ServerPoolStats) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	return stats
}
