package irbis

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pior/irbis/internal/testutils"
	"github.com/pior/irbis/protocol"
	"github.com/pior/irbis/transport"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster maps server addresses to fake servers.
type fakeCluster map[string]*testutils.Server

func newFakeCluster(addrs ...string) fakeCluster {
	cluster := make(fakeCluster)
	for _, addr := range addrs {
		cluster[addr] = testutils.NewServer()
	}
	return cluster
}

func (c fakeCluster) transport(addr string) transport.Transport {
	return c[addr].Transport()
}

func newTestClient(t *testing.T, config ClientConfig) *Client {
	t.Helper()
	if config.MaxSize == 0 {
		config.MaxSize = 2
	}
	config.Logger = discardLogger
	client, err := NewClient(testSettings(), config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(testSettings(), ClientConfig{})
	assert.Error(t, err, "MaxSize is required")

	_, err = NewClient(testSettings(), ClientConfig{MaxSize: 1, Servers: []string{"no-port"}})
	assert.Error(t, err)
}

func TestClient_DefaultServer(t *testing.T) {
	settings := testSettings()
	settings.Host = "library.example.org"
	settings.Port = 6667

	client, err := NewClient(settings, ClientConfig{MaxSize: 1})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "library.example.org:6667", client.ServerFor("IBIS"))
}

func TestClient_RoutesDatabases(t *testing.T) {
	cluster := newFakeCluster("10.0.0.1:6666", "10.0.0.2:6666", "10.0.0.3:6666")
	for _, server := range cluster {
		server.AddDatabase("RDR")
		server.AddDatabase("CMPL")
	}
	client := newTestClient(t, ClientConfig{
		Servers:      []string{"10.0.0.1:6666", "10.0.0.2:6666", "10.0.0.3:6666"},
		newTransport: cluster.transport,
	})
	ctx := context.Background()

	for _, database := range []string{"IBIS", "RDR", "CMPL"} {
		addr := client.ServerFor(database)
		host, _, _ := net.SplitHostPort(addr)
		before := cluster[addr].Count(protocol.CmdGetMaxMfn)

		err := client.With(ctx, database, func(conn *Connection) error {
			assert.Equal(t, host, conn.Host)
			assert.Equal(t, database, conn.Database)
			_, err := conn.GetMaxMfn(ctx, "")
			return err
		})
		require.NoError(t, err)

		assert.Equal(t, before+1, cluster[addr].Count(protocol.CmdGetMaxMfn), "database %s goes to %s", database, addr)
	}
}

func TestClient_StaticSelector(t *testing.T) {
	cluster := newFakeCluster("10.0.0.1:6666", "10.0.0.2:6666")
	client := newTestClient(t, ClientConfig{
		Servers:      []string{"10.0.0.1:6666", "10.0.0.2:6666"},
		SelectServer: staticSelector(1),
		newTransport: cluster.transport,
	})

	err := client.With(context.Background(), "", func(conn *Connection) error {
		assert.Equal(t, DefaultDatabase, conn.Database)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, cluster["10.0.0.1:6666"].Total())
	assert.Equal(t, 1, cluster["10.0.0.2:6666"].Count(protocol.CmdRegisterClient))
}

func TestClient_Stats(t *testing.T) {
	cluster := newFakeCluster("10.0.0.2:6666", "10.0.0.1:6666")
	client := newTestClient(t, ClientConfig{
		Servers:           []string{"10.0.0.2:6666", "10.0.0.1:6666"},
		newTransport:      cluster.transport,
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	ctx := context.Background()

	assert.Empty(t, client.Stats(), "pools are created on first use")

	for _, database := range []string{"A", "B", "C", "D", "E", "F"} {
		require.NoError(t, client.With(ctx, database, func(conn *Connection) error { return nil }))
	}

	stats := client.Stats()
	require.NotEmpty(t, stats)
	for i := 1; i < len(stats); i++ {
		assert.Less(t, stats[i-1].Addr, stats[i].Addr)
	}
	for _, s := range stats {
		assert.True(t, s.HasCircuitBreaker)
		assert.Equal(t, gobreaker.StateClosed, s.CircuitBreakerState)
		assert.Positive(t, s.PoolStats.AcquireCount)
		assert.Positive(t, s.Sessions.Logins)
	}
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, ClientConfig{
		Servers: []string{"10.0.0.1:6666"},
		newTransport: func(addr string) transport.Transport {
			return transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
				calls.Add(1)
				return nil, errors.New("connection refused")
			})
		},
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	ctx := context.Background()
	noop := func(conn *Connection) error { return nil }

	for range 3 {
		err := client.With(ctx, "", noop)
		require.ErrorIs(t, err, ErrNoResponse)
	}

	err := client.With(ctx, "", noop)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load(), "an open breaker does not reach the server")

	stats := client.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, gobreaker.StateOpen, stats[0].CircuitBreakerState)
	assert.Equal(t, uint64(4), stats[0].Sessions.TransportFailures)
}

func TestClient_Retry(t *testing.T) {
	server := testutils.NewServer()
	var failures atomic.Int32
	client := newTestClient(t, ClientConfig{
		Servers:    []string{"10.0.0.1:6666"},
		RetryLimit: 2,
		newTransport: func(addr string) transport.Transport {
			return transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
				if failures.Add(1) == 1 {
					return nil, &transport.ConnectionError{Op: "read", Addr: addr, Err: errors.New("reset")}
				}
				return server.Exchange(ctx, request)
			})
		},
	})

	err := client.With(context.Background(), "", func(conn *Connection) error {
		ok, _ := conn.NoOp(context.Background())
		assert.True(t, ok)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, server.Count(protocol.CmdRegisterClient))
}

func TestClient_HealthCheck(t *testing.T) {
	cluster := newFakeCluster("10.0.0.1:6666")
	client := newTestClient(t, ClientConfig{
		Servers:             []string{"10.0.0.1:6666"},
		HealthCheckInterval: 10 * time.Millisecond,
		newTransport:        cluster.transport,
	})

	require.NoError(t, client.With(context.Background(), "", func(conn *Connection) error { return nil }))

	assert.Eventually(t, func() bool {
		return cluster["10.0.0.1:6666"].Count(protocol.CmdNop) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	cluster := newFakeCluster("10.0.0.1:6666")
	client, err := NewClient(testSettings(), ClientConfig{
		MaxSize:      1,
		Servers:      []string{"10.0.0.1:6666"},
		newTransport: cluster.transport,
		Logger:       discardLogger,
	})
	require.NoError(t, err)
	require.NoError(t, client.With(context.Background(), "", func(conn *Connection) error { return nil }))

	client.Close()
	client.Close()

	assert.Eventually(t, func() bool {
		return cluster["10.0.0.1:6666"].Count(protocol.CmdUnregisterClient) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_OverTCP(t *testing.T) {
	server := testutils.NewServer()
	server.AddRecord("IBIS", titled("Networked"))
	addr := server.ListenTCP(t)

	client := newTestClient(t, ClientConfig{
		Servers:    []string{addr},
		RetryLimit: 1,
	})

	var title string
	err := client.With(context.Background(), "", func(conn *Connection) error {
		rec, err := conn.ReadRecord(context.Background(), 1)
		if rec != nil {
			title = rec.FmCode(200, 'a')
		}
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, "Networked", title)
}
