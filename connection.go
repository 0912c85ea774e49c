package irbis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/irbis/protocol"
	"github.com/pior/irbis/retry"
	"github.com/pior/irbis/transport"
)

var (
	// ErrInvalidArgument is returned by commands that reject their arguments
	// before any I/O.
	ErrInvalidArgument = errors.New("irbis: invalid argument")

	// ErrNoResponse marks a round trip that produced no usable response.
	// LastError wraps it together with the cause.
	ErrNoResponse = errors.New("irbis: no response")

	// ErrNotConnected is recorded in LastError when a command is skipped
	// because the connection is not established.
	ErrNotConnected = errors.New("irbis: not connected")

	// ErrCanceled is the cause of a round trip aborted by Cancel.
	ErrCanceled = errors.New("irbis: canceled")
)

const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 6666
	DefaultDatabase    = "IBIS"
	DefaultWorkstation = protocol.WorkstationCataloger

	defaultTermsPageSize = 1024
)

// Config holds the collaborators of a Connection. The zero value is usable.
type Config struct {
	// Transport carries queries to the server. The connection owns it and
	// closes it in Close.
	// If nil, a SocketTransport dialing Host:Port is created on first use and
	// recreated when the address changes.
	Transport transport.Transport

	// Dialer is used by the default transport.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// RetryDelay is slept between attempts of the retry decorator installed
	// by a positive RetryLimit. Ignored when Transport is set.
	RetryDelay time.Duration

	// Logger receives diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// OnBusyChanged is called when a round trip starts (true) and ends (false).
	OnBusyChanged func(busy bool)

	// for testing purposes only
	stats *statsCollector
}

// Connection is a session with an IRBIS64 server.
//
// A connection runs one round trip at a time. Issuing a command before the
// previous one returned breaks the query id sequence; callers that need
// parallelism use several connections (see Pool).
type Connection struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	Workstation string

	// RetryLimit installs a retry decorator around the default transport.
	// Zero disables retries.
	RetryLimit int

	// Data is opaque user data carried by the connection string.
	Data string

	transport     transport.Transport
	ownsTransport bool
	transportKey  string
	dialer        *net.Dialer
	retryDelay    time.Duration

	logger        *slog.Logger
	onBusyChanged func(bool)
	stats         *statsCollector

	connected atomic.Bool
	busy      atomic.Bool

	clientID      int
	queryID       int
	serverVersion string
	interval      int
	iniLines      []string

	mu          sync.Mutex
	scope       context.Context
	cancelScope context.CancelCauseFunc
	lastErr     error

	// for testing purposes only
	newClientID   func() int
	termsPageSize int
}

// NewConnection creates a disconnected session with default settings.
func NewConnection(config Config) *Connection {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stats := config.stats
	if stats == nil {
		stats = newStatsCollector()
	}

	return &Connection{
		Host:          DefaultHost,
		Port:          DefaultPort,
		Database:      DefaultDatabase,
		Workstation:   DefaultWorkstation,
		transport:     config.Transport,
		ownsTransport: config.Transport == nil,
		dialer:        config.Dialer,
		retryDelay:    config.RetryDelay,
		logger:        logger,
		onBusyChanged: config.OnBusyChanged,
		stats:         stats,
		newClientID:   randomClientID,
		termsPageSize: defaultTermsPageSize,
	}
}

func randomClientID() int {
	return 100000 + rand.IntN(900000)
}

// Connected reports whether the session is registered with the server.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// Busy reports whether a round trip is in progress.
func (c *Connection) Busy() bool {
	return c.busy.Load()
}

// ClientID returns the id the server knows this session by.
func (c *Connection) ClientID() int {
	return c.clientID
}

// QueryID returns the id of the next query.
func (c *Connection) QueryID() int {
	return c.queryID
}

// ServerVersion returns the version reported at login.
func (c *Connection) ServerVersion() string {
	return c.serverVersion
}

// Interval returns the server-reported confirmation interval, in minutes.
// The server drops clients silent for longer.
func (c *Connection) Interval() int {
	return c.interval
}

// IniLines returns the client INI file the server sent at login.
func (c *Connection) IniLines() []string {
	return c.iniLines
}

// LastError explains the most recent empty result: nil after a successful
// command, a *protocol.Error for a failing return code, an error wrapping
// ErrNoResponse for transport failures, a *record.DecodeError for a record
// that could not be decoded, or ErrNotConnected.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Connection) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Stats returns a snapshot of the session counters.
func (c *Connection) Stats() ConnectionStats {
	return c.stats.snapshot()
}

// Connect registers the client with the server. It does nothing when already
// connected. A client id already taken on the server is replaced by a fresh
// random id and the login repeated, for as long as that keeps happening.
func (c *Connection) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	for {
		c.clientID = c.newClientID()
		c.queryID = 1

		query := c.newQuery(protocol.CmdRegisterClient).
			AddAnsi(c.Username).
			AddAnsi(c.Password)
		resp := c.Execute(ctx, query)
		if resp == nil {
			return c.LastError()
		}

		code := resp.ReturnCode()
		if code == protocol.CodeClientAlreadyExists {
			c.stats.recordCollision()
			c.logger.Debug("irbis: client id already registered", "client_id", c.clientID)
			continue
		}
		if code < 0 {
			err := &protocol.Error{Code: code}
			c.stats.recordProtocolError()
			c.setLastError(err)
			return err
		}

		c.serverVersion = resp.ServerVersion
		c.interval = resp.ReadInt()
		c.iniLines = resp.RemainingAnsiLines()
		c.connected.Store(true)
		c.stats.recordLogin()
		return nil
	}
}

// Disconnect unregisters the client. Failures are logged, never returned;
// the connection is disconnected afterwards in every case.
func (c *Connection) Disconnect(ctx context.Context) {
	if !c.Connected() {
		return
	}
	defer c.connected.Store(false)

	query := c.newQuery(protocol.CmdUnregisterClient).AddAnsi(c.Username)
	if resp := c.Execute(ctx, query); resp == nil {
		c.logger.Warn("irbis: disconnect failed", "host", c.Host, "error", c.LastError())
	}
}

// Close disconnects and closes the transport.
func (c *Connection) Close() error {
	c.Disconnect(context.Background())

	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	if c.ownsTransport {
		c.transport = nil
	}
	return err
}

// Cancel aborts the round trip in progress, if any. The cancellation is
// single-shot: the next Execute starts with a fresh handle.
func (c *Connection) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelScope != nil {
		c.cancelScope(ErrCanceled)
	}
}

// Execute performs one round trip. It returns nil when the transport fails
// or the answer is not a response frame; LastError tells why. On success the
// query id advances.
func (c *Connection) Execute(ctx context.Context, query *protocol.Query) *protocol.Response {
	c.setBusy(true)
	defer c.setBusy(false)

	ctx, release := c.bind(ctx)
	defer release()

	request := query.Encode()
	c.stats.recordCommand(len(request))

	raw, err := c.ensureTransport().Exchange(ctx, request)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
		c.stats.recordTransportFailure()
		c.logger.Error("irbis: exchange failed", "command", query.Command(), "error", err)
		c.setLastError(fmt.Errorf("%w: %w", ErrNoResponse, err))
		return nil
	}
	c.stats.recordReceived(len(raw))

	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		c.stats.recordTransportFailure()
		c.logger.Error("irbis: bad response", "command", query.Command(), "error", err)
		c.setLastError(fmt.Errorf("%w: %w", ErrNoResponse, err))
		return nil
	}
	resp.Logger = c.logger

	c.queryID++
	c.setLastError(nil)
	return resp
}

// bind derives the round-trip context from ctx and the connection-scoped
// cancellation handle, re-arming the handle if it was used.
func (c *Connection) bind(ctx context.Context) (context.Context, func()) {
	c.mu.Lock()
	if c.scope == nil || c.scope.Err() != nil {
		c.scope, c.cancelScope = context.WithCancelCause(context.Background())
	}
	scope := c.scope
	c.mu.Unlock()

	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(scope, func() {
		cancel(context.Cause(scope))
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (c *Connection) setBusy(busy bool) {
	if c.busy.Swap(busy) != busy && c.onBusyChanged != nil {
		c.onBusyChanged(busy)
	}
}

func (c *Connection) ensureTransport() transport.Transport {
	if !c.ownsTransport {
		return c.transport
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	key := addr + "/" + strconv.Itoa(c.RetryLimit)
	if c.transport != nil && c.transportKey == key {
		return c.transport
	}
	if c.transport != nil {
		c.transport.Close()
	}

	var t transport.Transport = transport.NewSocketTransport(addr, c.dialer)
	if c.RetryLimit > 0 {
		m := retry.NewManager(c.RetryLimit, c.retryDelay, transport.Transient)
		m.Logger = c.logger
		t = transport.NewRetry(t, m)
	}
	c.transport = t
	c.transportKey = key
	return t
}

func (c *Connection) newQuery(command string) *protocol.Query {
	return protocol.NewQuery(command, protocol.Header{
		Workstation: c.Workstation,
		ClientID:    c.clientID,
		QueryID:     c.queryID,
		Username:    c.Username,
		Password:    c.Password,
	})
}

// ready reports whether commands may run, recording ErrNotConnected if not.
func (c *Connection) ready() bool {
	if c.Connected() {
		return true
	}
	c.setLastError(ErrNotConnected)
	return false
}

// check validates the return code of resp, recording failures.
func (c *Connection) check(resp *protocol.Response, good ...int) bool {
	if err := resp.Err(good...); err != nil {
		c.stats.recordProtocolError()
		c.setLastError(err)
		return false
	}
	return true
}

// execute runs a command query and validates its return code.
func (c *Connection) execute(ctx context.Context, query *protocol.Query, good ...int) *protocol.Response {
	resp := c.Execute(ctx, query)
	if resp == nil || !c.check(resp, good...) {
		return nil
	}
	return resp
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}
