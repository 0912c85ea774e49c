package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pior/irbis/internal"
)

// Typical query is well under 1 KiB.
var queryBuffers = internal.NewBufferPool(1024)

// Header identifies the client sending a query.
type Header struct {
	Workstation string
	ClientID    int
	QueryID     int
	Username    string
	Password    string
}

// Query is a request frame under construction.
//
// Every Add* call appends exactly one line. Encode seals the query: adding
// to it afterwards is a programming error and panics.
type Query struct {
	command string
	header  Header
	body    []byte
	encoded []byte
}

// NewQuery starts a query for command on behalf of the client in header.
func NewQuery(command string, header Header) *Query {
	return &Query{command: command, header: header}
}

// Command returns the command code.
func (q *Query) Command() string {
	return q.command
}

// AddAnsi appends text as a cp1251 line.
func (q *Query) AddAnsi(text string) *Query {
	q.mustBeOpen()
	q.body = AppendAnsi(q.body, text)
	q.body = append(q.body, RequestNewLine)
	return q
}

// AddUtf appends text as a UTF-8 line.
func (q *Query) AddUtf(text string) *Query {
	q.mustBeOpen()
	q.body = append(q.body, text...)
	q.body = append(q.body, RequestNewLine)
	return q
}

// AddInt appends a decimal integer line.
func (q *Query) AddInt(value int) *Query {
	q.mustBeOpen()
	q.body = strconv.AppendInt(q.body, int64(value), 10)
	q.body = append(q.body, RequestNewLine)
	return q
}

// AddBool appends 1 or 0.
func (q *Query) AddBool(value bool) *Query {
	if value {
		return q.AddInt(1)
	}
	return q.AddInt(0)
}

// AddFormat appends a display format. Formats naming a server file (@name)
// go as cp1251; inline formats are sanitized with PrepareFormat and sent as
// UTF-8 with a leading '!'. An empty format appends an empty line.
func (q *Query) AddFormat(format string) *Query {
	format = strings.TrimSpace(format)
	switch {
	case format == "":
		return q.AddAnsi("")
	case format[0] == '@':
		return q.AddAnsi(format)
	case format[0] == '!':
		return q.AddUtf("!" + PrepareFormat(format[1:]))
	default:
		return q.AddUtf("!" + PrepareFormat(format))
	}
}

func (q *Query) mustBeOpen() {
	if q.encoded != nil {
		panic("irbis: query modified after encoding")
	}
}

// Encode returns the wire form: a length line followed by the header and body.
// The result is cached; later calls return the same slice.
func (q *Query) Encode() []byte {
	if q.encoded != nil {
		return q.encoded
	}

	buf := queryBuffers.Get()
	defer queryBuffers.Put(buf)

	q.writeHeaderLine(buf, q.command)
	q.writeHeaderLine(buf, q.header.Workstation)
	q.writeHeaderLine(buf, q.command)
	q.writeHeaderLine(buf, strconv.Itoa(q.header.ClientID))
	q.writeHeaderLine(buf, strconv.Itoa(q.header.QueryID))
	q.writeHeaderLine(buf, q.header.Password)
	q.writeHeaderLine(buf, q.header.Username)
	buf.WriteByte(RequestNewLine)
	buf.WriteByte(RequestNewLine)
	buf.WriteByte(RequestNewLine)
	buf.Write(q.body)

	length := strconv.Itoa(buf.Len())
	encoded := make([]byte, 0, len(length)+1+buf.Len())
	encoded = append(encoded, length...)
	encoded = append(encoded, RequestNewLine)
	encoded = append(encoded, buf.Bytes()...)
	q.encoded = encoded
	return encoded
}

func (q *Query) writeHeaderLine(buf *bytes.Buffer, text string) {
	buf.Write(AppendAnsi(nil, text))
	buf.WriteByte(RequestNewLine)
}

// ReceivedQuery is a request frame decoded on the server side. Fakes and
// proxies use it; the client never does.
type ReceivedQuery struct {
	Command     string
	Workstation string
	ClientID    int
	QueryID     int
	Password    string
	Username    string
	Args        [][]byte
}

// Arg returns argument i decoded as UTF-8, or "" when absent.
func (q *ReceivedQuery) Arg(i int) string {
	if i < 0 || i >= len(q.Args) {
		return ""
	}
	return DecodeUtf(q.Args[i])
}

// AnsiArg returns argument i decoded as cp1251, or "" when absent.
func (q *ReceivedQuery) AnsiArg(i int) string {
	if i < 0 || i >= len(q.Args) {
		return ""
	}
	return DecodeAnsi(q.Args[i])
}

// IntArg returns argument i as an integer, or 0.
func (q *ReceivedQuery) IntArg(i int) int {
	n, _ := strconv.Atoi(strings.TrimSpace(q.Arg(i)))
	return n
}

// ParseQuery decodes a frame produced by Query.Encode.
func ParseQuery(data []byte) (*ReceivedQuery, error) {
	lengthLine, rest, found := bytes.Cut(data, []byte{RequestNewLine})
	if !found {
		return nil, &ParseError{Message: "missing length line"}
	}
	length, err := strconv.Atoi(string(lengthLine))
	if err != nil {
		return nil, &ParseError{Message: "invalid length line", Err: err}
	}
	if length != len(rest) {
		return nil, &ParseError{Message: "length mismatch: declared " + strconv.Itoa(length) + ", got " + strconv.Itoa(len(rest))}
	}

	lines := bytes.Split(rest, []byte{RequestNewLine})
	// Split leaves an empty element after the final terminator.
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	if len(lines) < 10 {
		return nil, &ParseError{Message: "truncated query header"}
	}

	q := &ReceivedQuery{
		Command:     DecodeAnsi(lines[0]),
		Workstation: DecodeAnsi(lines[1]),
		Password:    DecodeAnsi(lines[5]),
		Username:    DecodeAnsi(lines[6]),
		Args:        lines[10:],
	}
	q.ClientID, _ = strconv.Atoi(string(lines[3]))
	q.QueryID, _ = strconv.Atoi(string(lines[4]))
	return q, nil
}
