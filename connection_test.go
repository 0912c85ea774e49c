package irbis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/pior/irbis/internal/testutils"
	"github.com/pior/irbis/protocol"
	"github.com/pior/irbis/record"
	"github.com/pior/irbis/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.DiscardHandler)

func newTestConnection(t *testing.T, tr transport.Transport) *Connection {
	t.Helper()
	conn := NewConnection(Config{Transport: tr, Logger: discardLogger})
	conn.Username = "librarian"
	conn.Password = "secret"
	return conn
}

// newConnected returns a logged-in connection to a fresh fake server.
func newConnected(t *testing.T) (*Connection, *testutils.Server) {
	t.Helper()
	server := testutils.NewServer()
	conn := newTestConnection(t, server.Transport())
	require.NoError(t, conn.Connect(context.Background()))
	return conn, server
}

func sequentialIDs(ids ...int) func() int {
	i := 0
	return func() int {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func TestConnection_Connect(t *testing.T) {
	conn, server := newConnected(t)

	assert.True(t, conn.Connected())
	assert.False(t, conn.Busy())
	assert.Equal(t, "64.2014.1", conn.ServerVersion())
	assert.Equal(t, 10, conn.Interval())
	assert.Equal(t, []string{"[Main]", "User=librarian"}, conn.IniLines())
	assert.Equal(t, 2, conn.QueryID())
	assert.NoError(t, conn.LastError())

	login := server.LastQuery()
	require.NotNil(t, login)
	assert.Equal(t, protocol.CmdRegisterClient, login.Command)
	assert.Equal(t, conn.ClientID(), login.ClientID)
	assert.Equal(t, 1, login.QueryID)
	assert.Equal(t, "librarian", login.AnsiArg(0))
	assert.Equal(t, "secret", login.AnsiArg(1))

	stats := conn.Stats()
	assert.Equal(t, uint64(1), stats.Logins)
	assert.Equal(t, uint64(1), stats.Commands)
}

func TestConnection_ConnectTwiceIsNoOp(t *testing.T) {
	conn, server := newConnected(t)

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, 1, server.Count(protocol.CmdRegisterClient))
}

func TestConnection_ConnectRetriesTakenClientID(t *testing.T) {
	server := testutils.NewServer()
	server.RejectLogins(2)

	conn := newTestConnection(t, server.Transport())
	conn.newClientID = sequentialIDs(111111, 222222, 333333)

	require.NoError(t, conn.Connect(context.Background()))

	assert.True(t, conn.Connected())
	assert.Equal(t, 333333, conn.ClientID())
	assert.Equal(t, 3, server.Count(protocol.CmdRegisterClient))

	var ids []int
	for _, q := range server.Queries() {
		ids = append(ids, q.ClientID)
		assert.Equal(t, 1, q.QueryID, "every attempt starts a new query sequence")
	}
	assert.Equal(t, []int{111111, 222222, 333333}, ids)

	stats := conn.Stats()
	assert.Equal(t, uint64(2), stats.ClientIDCollisions)
	assert.Equal(t, uint64(1), stats.Logins)
}

func TestConnection_ConnectWrongPassword(t *testing.T) {
	server := testutils.NewServer()
	server.Password = "other"
	conn := newTestConnection(t, server.Transport())

	err := conn.Connect(context.Background())

	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.CodeWrongPassword, perr.Code)
	assert.False(t, conn.Connected())
	assert.Equal(t, err, conn.LastError())
	assert.Equal(t, uint64(1), conn.Stats().ProtocolErrors)
}

func TestConnection_ConnectTransportFailure(t *testing.T) {
	conn := newTestConnection(t, transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
		return nil, io.ErrUnexpectedEOF
	}))

	err := conn.Connect(context.Background())

	assert.ErrorIs(t, err, ErrNoResponse)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, conn.Connected())
	assert.Equal(t, uint64(1), conn.Stats().TransportFailures)
}

func TestConnection_ExecuteBadResponse(t *testing.T) {
	conn := newTestConnection(t, transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
		return []byte("garbage"), nil
	}))

	resp := conn.Execute(context.Background(), conn.newQuery(protocol.CmdNop))

	assert.Nil(t, resp)
	assert.ErrorIs(t, conn.LastError(), ErrNoResponse)
	assert.Equal(t, 0, conn.QueryID(), "query id only advances on success")
}

func TestConnection_MalformedReturnCodeLogged(t *testing.T) {
	server := testutils.NewServer()
	var logs bytes.Buffer
	conn := NewConnection(Config{
		Transport: server.Transport(),
		Logger:    slog.New(slog.NewTextHandler(&logs, nil)),
	})
	conn.Username = "librarian"
	conn.Password = "secret"
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	server.Handle(protocol.CmdGetMaxMfn, func(q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
		b.Utf("??")
	})

	maxMfn, err := conn.GetMaxMfn(ctx, "")

	require.NoError(t, err)
	assert.Zero(t, maxMfn)
	assert.True(t, protocol.IsCode(conn.LastError(), protocol.CodeWrongProtocol))
	assert.Contains(t, logs.String(), "malformed return code")
}

func TestConnection_NotConnectedShortCircuits(t *testing.T) {
	server := testutils.NewServer()
	conn := newTestConnection(t, server.Transport())
	ctx := context.Background()
	rec := record.New("IBIS").Add(200, "", record.SubField{Code: 'a', Value: "Title"})
	spec := FileSpecification{Path: PathMasterFile, Database: "IBIS", Filename: "brief.pft"}

	commands := map[string]func() (any, error){
		"ReadRecord":          func() (any, error) { return conn.ReadRecord(ctx, 1) },
		"ReadRecordVersion":   func() (any, error) { return conn.ReadRecordVersion(ctx, 1, 2) },
		"WriteRecord":         func() (any, error) { return conn.WriteRecord(ctx, rec, false, true) },
		"DeleteRecord":        func() (any, error) { return conn.DeleteRecord(ctx, 1) },
		"FormatRecord":        func() (any, error) { return conn.FormatRecord(ctx, "v200", 1) },
		"FormatVirtualRecord": func() (any, error) { return conn.FormatVirtualRecord(ctx, "v200", rec) },
		"ListFiles":           func() (any, error) { return conn.ListFiles(ctx, spec) },
		"ReadTextFile":        func() (any, error) { return conn.ReadTextFile(ctx, spec) },
		"ListProcesses":       func() (any, error) { return conn.ListProcesses(ctx) },
		"ActualizeRecord":     func() (any, error) { return conn.ActualizeRecord(ctx, "", 1) },
		"TruncateDatabase":    func() (any, error) { return conn.TruncateDatabase(ctx, "") },
		"UnlockDatabase":      func() (any, error) { return conn.UnlockDatabase(ctx, "") },
		"UnlockRecords":       func() (any, error) { return conn.UnlockRecords(ctx, "", 1) },
		"ReloadDictionary":    func() (any, error) { return conn.ReloadDictionary(ctx, "") },
		"ReloadMasterFile":    func() (any, error) { return conn.ReloadMasterFile(ctx, "") },
		"NoOp":                func() (any, error) { return conn.NoOp(ctx) },
		"GetMaxMfn":           func() (any, error) { return conn.GetMaxMfn(ctx, "") },
		"GetServerVersion":    func() (any, error) { return conn.GetServerVersion(ctx) },
		"ReadTerms":           func() (any, error) { return conn.ReadTerms(ctx, "T=", 10) },
		"ReadAllTerms":        func() (any, error) { return conn.ReadAllTerms(ctx, "T=") },
		"ReadPostings":        func() (any, error) { return conn.ReadPostings(ctx, PostingParameters{Terms: []string{"T=A"}}) },
		"Search":              func() (any, error) { return conn.Search(ctx, "T=A") },
		"SearchCount":         func() (any, error) { return conn.SearchCount(ctx, "T=A") },
		"SearchAll":           func() (any, error) { return conn.SearchAll(ctx, "T=A") },
		"SearchRead":          func() (any, error) { return conn.SearchRead(ctx, "T=A", 0) },
	}

	for name, command := range commands {
		t.Run(name, func(t *testing.T) {
			conn.setLastError(nil)

			result, err := command()

			require.NoError(t, err)
			assert.Empty(t, result)
			assert.ErrorIs(t, conn.LastError(), ErrNotConnected)
		})
	}

	assert.Equal(t, 0, server.Total(), "no query reaches the server")
}

func TestConnection_InvalidArgumentsBeforeConnecting(t *testing.T) {
	conn := newTestConnection(t, testutils.NewServer().Transport())
	ctx := context.Background()

	_, err := conn.ReadRecord(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.ReadRecordVersion(ctx, 1, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.WriteRecord(ctx, nil, false, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.FormatRecord(ctx, "  ", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.ListFiles(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.ReadTextFile(ctx, FileSpecification{Path: PathSystem})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.ActualizeRecord(ctx, "", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.UnlockRecords(ctx, "", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.ReadTerms(ctx, "", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.ReadPostings(ctx, PostingParameters{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.Search(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = conn.SearchRead(ctx, "T=A", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.NoError(t, conn.LastError(), "rejected arguments do not touch LastError")
}

func TestConnection_QueryIDAdvances(t *testing.T) {
	conn, server := newConnected(t)
	ctx := context.Background()

	for want := 2; want < 5; want++ {
		ok, err := conn.NoOp(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, server.LastQuery().QueryID)
		assert.Equal(t, conn.ClientID(), server.LastQuery().ClientID)
	}
	assert.Equal(t, 5, conn.QueryID())
}

func TestConnection_BusyCallback(t *testing.T) {
	server := testutils.NewServer()
	var changes []bool
	var busyInside bool

	var conn *Connection
	conn = NewConnection(Config{
		Transport: transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
			busyInside = conn.Busy()
			return server.Exchange(ctx, request)
		}),
		Logger:        discardLogger,
		OnBusyChanged: func(busy bool) { changes = append(changes, busy) },
	})

	require.NoError(t, conn.Connect(context.Background()))

	assert.True(t, busyInside)
	assert.False(t, conn.Busy())
	assert.Equal(t, []bool{true, false}, changes)
}

func TestConnection_Cancel(t *testing.T) {
	server := testutils.NewServer()
	started := make(chan struct{})
	var block atomic.Bool

	conn := newTestConnection(t, transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
		if block.Load() {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return server.Exchange(ctx, request)
	}))
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	block.Store(true)
	go func() {
		<-started
		conn.Cancel()
	}()

	ok, err := conn.NoOp(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, conn.LastError(), ErrNoResponse)
	assert.ErrorIs(t, conn.LastError(), ErrCanceled)

	// The cancellation was consumed; the next command runs normally.
	block.Store(false)
	ok, err = conn.NoOp(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, conn.LastError())
}

func TestConnection_CancelWithoutRoundTrip(t *testing.T) {
	conn, _ := newConnected(t)

	conn.Cancel()

	ok, err := conn.NoOp(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "a cancel with nothing in flight does not poison the next command")
}

func TestConnection_ContextCanceled(t *testing.T) {
	conn, server := newConnected(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := conn.NoOp(ctx)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, conn.LastError(), context.Canceled)
	assert.Equal(t, 1, server.Total())
}

func TestConnection_Disconnect(t *testing.T) {
	conn, server := newConnected(t)
	ctx := context.Background()

	conn.Disconnect(ctx)
	assert.False(t, conn.Connected())
	assert.Equal(t, 1, server.Count(protocol.CmdUnregisterClient))
	assert.Equal(t, "librarian", server.LastQuery().AnsiArg(0))

	conn.Disconnect(ctx)
	assert.Equal(t, 1, server.Count(protocol.CmdUnregisterClient), "second disconnect sends nothing")
}

func TestConnection_DisconnectSwallowsErrors(t *testing.T) {
	server := testutils.NewServer()
	var fail atomic.Bool
	conn := newTestConnection(t, transport.Func(func(ctx context.Context, request []byte) ([]byte, error) {
		if fail.Load() {
			return nil, errors.New("connection reset")
		}
		return server.Exchange(ctx, request)
	}))
	require.NoError(t, conn.Connect(context.Background()))

	fail.Store(true)
	conn.Disconnect(context.Background())

	assert.False(t, conn.Connected())
	assert.ErrorIs(t, conn.LastError(), ErrNoResponse)
}

func TestConnection_OverTCP(t *testing.T) {
	server := testutils.NewServer()
	server.AddRecord("IBIS", record.New("").Add(200, "", record.SubField{Code: 'a', Value: "Title"}))
	addr := server.ListenTCP(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	conn := NewConnection(Config{Logger: discardLogger})
	conn.Host = host
	conn.Port, _ = strconv.Atoi(port)
	conn.Username = "librarian"
	conn.RetryLimit = 2
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))

	maxMfn, err := conn.GetMaxMfn(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, maxMfn)

	rec, err := conn.ReadRecord(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Title", rec.FmCode(200, 'a'))

	require.NoError(t, conn.Close())
	assert.False(t, conn.Connected())
	assert.Equal(t, 1, server.Count(protocol.CmdUnregisterClient))
}

func TestConnection_OverTCPUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	conn := NewConnection(Config{Logger: discardLogger})
	conn.Host = "127.0.0.1"
	conn.Port = addr.Port

	err = conn.Connect(context.Background())

	assert.ErrorIs(t, err, ErrNoResponse)
	var connErr *transport.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}
