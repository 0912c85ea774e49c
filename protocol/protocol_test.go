package protocol

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHeader = Header{
	Workstation: WorkstationCataloger,
	ClientID:    123456,
	QueryID:     7,
	Username:    "librarian",
	Password:    "secret",
}

func TestQueryEncode(t *testing.T) {
	q := NewQuery(CmdReadRecord, testHeader).
		AddAnsi("IBIS").
		AddInt(42).
		AddBool(false)

	body := "C\nC\nC\n123456\n7\nsecret\nlibrarian\n\n\n\nIBIS\n42\n0\n"
	expected := "45\n" + body
	require.Len(t, body, 45)
	assert.Equal(t, expected, string(q.Encode()))

	// cached
	assert.Same(t, &q.Encode()[0], &q.Encode()[0])
}

func TestQueryEncodings(t *testing.T) {
	q := NewQuery(CmdSearch, testHeader).
		AddAnsi("Привет").
		AddUtf("Привет")

	encoded := q.Encode()
	assert.Contains(t, string(encoded), "\xcf\xf0\xe8\xe2\xe5\xf2\n")
	assert.Contains(t, string(encoded), "Привет\n")

	received, err := ParseQuery(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Привет", received.AnsiArg(0))
	assert.Equal(t, "Привет", received.Arg(1))
}

func TestQuerySealed(t *testing.T) {
	q := NewQuery(CmdNop, testHeader)
	q.Encode()
	assert.Panics(t, func() { q.AddInt(1) })
}

func TestQueryAddFormat(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{"", ""},
		{"@brief", "@brief"},
		{"!v200", "!v200"},
		{"v200^a, /* comment\nv700", "!v200^a,  v700"},
		{"  'quoted'  ", "!'quoted'"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			q := NewQuery(CmdFormatRecord, testHeader).AddFormat(tt.format)
			received, err := ParseQuery(q.Encode())
			require.NoError(t, err)
			require.NotEmpty(t, received.Args)
			assert.Equal(t, tt.expected, received.Arg(0))
		})
	}
}

func TestParseQuery(t *testing.T) {
	q := NewQuery(CmdRegisterClient, testHeader).AddAnsi("librarian").AddAnsi("")
	received, err := ParseQuery(q.Encode())
	require.NoError(t, err)

	assert.Equal(t, CmdRegisterClient, received.Command)
	assert.Equal(t, WorkstationCataloger, received.Workstation)
	assert.Equal(t, 123456, received.ClientID)
	assert.Equal(t, 7, received.QueryID)
	assert.Equal(t, "secret", received.Password)
	assert.Equal(t, "librarian", received.Username)
	require.Len(t, received.Args, 2)
	assert.Equal(t, "", received.Arg(1))
	assert.Equal(t, "", received.Arg(5))

	_, err = ParseQuery([]byte("10\nshort\n"))
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = ParseQuery([]byte("no length"))
	assert.ErrorAs(t, err, &parseErr)
}

func TestParseResponse(t *testing.T) {
	query := &ReceivedQuery{Command: CmdReadRecord, ClientID: 1, QueryID: 2}
	b := NewResponseBuilder(query)
	b.ServerVersion = "64.2014"
	b.Interval = 30
	b.Int(-603).Utf("1#1").Utf("0#4").Utf("200#^aЗаголовок")

	resp, err := ParseResponse(b.Bytes())
	require.NoError(t, err)

	assert.Equal(t, CmdReadRecord, resp.Command)
	assert.Equal(t, 1, resp.ClientID)
	assert.Equal(t, 2, resp.QueryID)
	assert.Equal(t, "64.2014", resp.ServerVersion)
	assert.Equal(t, 30, resp.Interval)
	assert.Positive(t, resp.AnswerSize)

	assert.Equal(t, -603, resp.ReturnCode())
	assert.Equal(t, -603, resp.ReturnCode())
	assert.True(t, resp.CheckReturnCode(ReadRecordCodes...))
	assert.False(t, resp.CheckReturnCode())
	assert.True(t, IsCode(resp.Err(), CodeRecordDeleted))
	assert.NoError(t, resp.Err(ReadRecordCodes...))

	assert.Equal(t, []string{"1#1", "0#4", "200#^aЗаголовок"}, resp.RemainingUtfLines())
	assert.True(t, resp.EOF())
	assert.Nil(t, resp.RemainingUtfLines())
	assert.Equal(t, "", resp.ReadAnsi())
}

func TestResponseLineEndings(t *testing.T) {
	raw := "K\n1\n2\n0\n\n\n\n\n\n\n0\r\nline\rwith cr\nlast"
	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, 0, resp.ReturnCode())
	assert.Equal(t, "line\rwith cr", resp.ReadUtf())
	assert.Equal(t, "last", resp.RemainingUtfText())
	assert.True(t, resp.EOF())
}

func TestResponseReadValues(t *testing.T) {
	query := &ReceivedQuery{Command: CmdGetProcessList}
	b := NewResponseBuilder(query).Int(0).Int(2).Ansi("Администратор").Utf("x").Utf("y")

	resp, err := ParseResponse(b.Bytes())
	require.NoError(t, err)
	require.True(t, resp.CheckReturnCode())
	assert.Equal(t, 2, resp.ReadInt())
	assert.Equal(t, "Администратор", resp.ReadAnsi())
	assert.Equal(t, "x\r\ny\r\n", resp.RemainingUtfText())
}

func TestParseResponseErrors(t *testing.T) {
	_, err := ParseResponse(nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = ParseResponse([]byte("A\r\n1\r\n"))
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestMalformedReturnCode(t *testing.T) {
	resp, err := ParseResponse([]byte("A\n1\n2\n0\n\n\n\n\n\n\nnot a number\n"))
	require.NoError(t, err)
	assert.Equal(t, CodeWrongProtocol, resp.ReturnCode())
}

func TestMalformedReturnCodeLogger(t *testing.T) {
	resp, err := ParseResponse([]byte("O\n1\n2\n0\n\n\n\n\n\n\n??\n"))
	require.NoError(t, err)

	var logs bytes.Buffer
	resp.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	assert.Equal(t, CodeWrongProtocol, resp.ReturnCode())
	assert.Contains(t, logs.String(), "malformed return code")
	assert.Contains(t, logs.String(), "command=O")
}

func TestAnsiCodec(t *testing.T) {
	assert.Equal(t, []byte("abc"), EncodeAnsi("abc"))
	assert.Equal(t, []byte{0xc0, 0xe1, 0xe2}, EncodeAnsi("Абв"))
	assert.Equal(t, []byte("a?b"), EncodeAnsi("a中b"))
	assert.Equal(t, "Абв", DecodeAnsi([]byte{0xc0, 0xe1, 0xe2}))
	assert.Equal(t, "plain", DecodeAnsi([]byte("plain")))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "no error", Describe(0))
	assert.Equal(t, "client already registered", Describe(CodeClientAlreadyExists))
	assert.Equal(t, "unknown error", Describe(-1))

	err := &Error{Code: CodeWrongPassword}
	assert.Equal(t, "irbis: wrong password (-4444)", err.Error())
}
