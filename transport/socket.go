package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"
)

// aLongTimeAgo is a deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// SocketTransport opens a TCP connection per exchange: the server answers a
// single query and closes the socket.
type SocketTransport struct {
	addr   string
	dialer *net.Dialer

	mu     sync.Mutex
	closed bool
}

// NewSocketTransport creates a transport for host:port. A nil dialer means
// the zero net.Dialer.
func NewSocketTransport(addr string, dialer *net.Dialer) *SocketTransport {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &SocketTransport{
		addr:   addr,
		dialer: dialer,
	}
}

// Addr returns the server address.
func (t *SocketTransport) Addr() string {
	return t.addr
}

// Exchange dials the server, writes request and reads until the server
// closes the connection. The context deadline bounds the whole exchange and
// cancelling the context aborts blocked I/O.
func (t *SocketTransport) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.isClosed() {
		return nil, ErrClosed
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: t.addr, Err: err}
	}
	defer conn.Close()

	// Set deadline based on context
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	if _, err := conn.Write(request); err != nil {
		return nil, t.ioError(ctx, "write", err)
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		return nil, t.ioError(ctx, "read", err)
	}
	return response, nil
}

func (t *SocketTransport) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &ConnectionError{Op: op, Addr: t.addr, Err: err}
}

func (t *SocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close marks the transport closed. Exchanges in progress are not affected.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
