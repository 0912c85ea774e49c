package protocol

import (
	"bytes"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// Response is a server answer. The header is parsed eagerly; the body is
// consumed on demand, in the order the command defines.
type Response struct {
	Command       string
	ClientID      int
	QueryID       int
	AnswerSize    int
	ServerVersion string
	Interval      int

	// Logger receives diagnostics about malformed content. Nil means
	// slog.Default().
	Logger *slog.Logger

	data           []byte
	pos            int
	returnCode     int
	returnCodeRead bool
}

// ParseResponse parses the header of a raw response.
func ParseResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}

	resp := &Response{data: data}
	header := make([][]byte, 0, HeaderLines)
	for range HeaderLines {
		line, ok := resp.readLine()
		if !ok {
			return nil, &ParseError{Message: "truncated response header"}
		}
		header = append(header, line)
	}

	resp.Command = DecodeAnsi(header[0])
	resp.ClientID = atoi(header[1])
	resp.QueryID = atoi(header[2])
	resp.AnswerSize = atoi(header[3])
	resp.ServerVersion = DecodeAnsi(header[4])
	resp.Interval = atoi(header[5])
	return resp, nil
}

// readLine returns the next line without its terminator. Lines end with CRLF;
// a bare LF is accepted, a bare CR is content.
func (r *Response) readLine() ([]byte, bool) {
	if r.pos >= len(r.data) {
		return nil, false
	}
	rest := r.data[r.pos:]
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		r.pos = len(r.data)
		return rest, true
	}
	r.pos += idx + 1
	line := rest[:idx]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, true
}

func (r *Response) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// EOF reports whether the body has been fully consumed.
func (r *Response) EOF() bool {
	return r.pos >= len(r.data)
}

// ReturnCode reads the return code, the first body line. It is read once
// and cached. A line that is not a number yields CodeWrongProtocol.
func (r *Response) ReturnCode() int {
	if r.returnCodeRead {
		return r.returnCode
	}
	r.returnCodeRead = true

	line, _ := r.readLine()
	code, err := strconv.Atoi(strings.TrimSpace(string(line)))
	if err != nil {
		r.logger().Error("irbis: malformed return code", "command", r.Command, "line", string(line))
		code = CodeWrongProtocol
	}
	r.returnCode = code
	return code
}

// CheckReturnCode reports whether the return code is non-negative or one of
// the benign codes for the command.
func (r *Response) CheckReturnCode(good ...int) bool {
	code := r.ReturnCode()
	return code >= 0 || slices.Contains(good, code)
}

// Err returns a *Error for a failing return code, nil otherwise.
func (r *Response) Err(good ...int) error {
	if r.CheckReturnCode(good...) {
		return nil
	}
	return &Error{Code: r.returnCode}
}

// ReadAnsi reads the next line as cp1251 text. Empty at end of body.
func (r *Response) ReadAnsi() string {
	line, _ := r.readLine()
	return DecodeAnsi(line)
}

// ReadUtf reads the next line as UTF-8 text. Empty at end of body.
func (r *Response) ReadUtf() string {
	line, _ := r.readLine()
	return DecodeUtf(line)
}

// ReadInt reads the next line as an integer; 0 when empty or malformed.
func (r *Response) ReadInt() int {
	line, _ := r.readLine()
	return atoi(line)
}

// RemainingAnsiLines reads every line left as cp1251 text.
func (r *Response) RemainingAnsiLines() []string {
	var lines []string
	for {
		line, ok := r.readLine()
		if !ok {
			return lines
		}
		lines = append(lines, DecodeAnsi(line))
	}
}

// RemainingUtfLines reads every line left as UTF-8 text.
func (r *Response) RemainingUtfLines() []string {
	var lines []string
	for {
		line, ok := r.readLine()
		if !ok {
			return lines
		}
		lines = append(lines, DecodeUtf(line))
	}
}

// RemainingAnsiText returns the rest of the body verbatim as cp1251 text.
func (r *Response) RemainingAnsiText() string {
	return DecodeAnsi(r.rest())
}

// RemainingUtfText returns the rest of the body verbatim as UTF-8 text.
func (r *Response) RemainingUtfText() string {
	return DecodeUtf(r.rest())
}

func (r *Response) rest() []byte {
	if r.pos >= len(r.data) {
		return nil
	}
	rest := r.data[r.pos:]
	r.pos = len(r.data)
	return rest
}

func atoi(b []byte) int {
	n, err := strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return 0
	}
	return n
}

// ResponseBuilder writes a response frame the way the server does. The
// in-process fake server and tests use it.
type ResponseBuilder struct {
	Command       string
	ClientID      int
	QueryID       int
	ServerVersion string
	Interval      int

	body bytes.Buffer
}

// NewResponseBuilder starts a response echoing the identity of query.
func NewResponseBuilder(query *ReceivedQuery) *ResponseBuilder {
	return &ResponseBuilder{
		Command:  query.Command,
		ClientID: query.ClientID,
		QueryID:  query.QueryID,
	}
}

// Ansi appends a cp1251 line.
func (b *ResponseBuilder) Ansi(text string) *ResponseBuilder {
	b.body.Write(EncodeAnsi(text))
	b.body.WriteString(CRLF)
	return b
}

// Utf appends a UTF-8 line.
func (b *ResponseBuilder) Utf(text string) *ResponseBuilder {
	b.body.WriteString(text)
	b.body.WriteString(CRLF)
	return b
}

// Int appends an integer line.
func (b *ResponseBuilder) Int(value int) *ResponseBuilder {
	return b.Ansi(strconv.Itoa(value))
}

// Bytes returns the encoded frame.
func (b *ResponseBuilder) Bytes() []byte {
	var out bytes.Buffer
	lines := []string{
		b.Command,
		strconv.Itoa(b.ClientID),
		strconv.Itoa(b.QueryID),
		strconv.Itoa(b.body.Len()),
		b.ServerVersion,
		strconv.Itoa(b.Interval),
		"", "", "", "",
	}
	for _, line := range lines {
		out.Write(EncodeAnsi(line))
		out.WriteString(CRLF)
	}
	out.Write(b.body.Bytes())
	return out.Bytes()
}
