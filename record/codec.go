package record

import (
	"strings"
	"unicode/utf8"
)

// IrbisDelimiter separates record lines in the protocol's compact form.
const IrbisDelimiter = "\x1F\x1E"

// WindowsDelimiter is the platform line ending IrbisDelimiter maps to.
const WindowsDelimiter = "\r\n"

// DecodeError reports a record or field line that cannot be decoded.
type DecodeError struct {
	Line    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := "record: " + e.Message + ": " + quoteLine(e.Line)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func quoteLine(line string) string {
	const max = 40
	if len(line) > max {
		line = line[:max] + "..."
	}
	return "\"" + line + "\""
}

// IrbisToWindows converts the compact record delimiter to CRLF.
func IrbisToWindows(text string) string {
	return strings.ReplaceAll(text, IrbisDelimiter, WindowsDelimiter)
}

// WindowsToIrbis converts CRLF to the compact record delimiter.
func WindowsToIrbis(text string) string {
	return strings.ReplaceAll(text, WindowsDelimiter, IrbisDelimiter)
}

// IrbisToLines splits compact text into its lines.
func IrbisToLines(text string) []string {
	return strings.Split(text, IrbisDelimiter)
}

// Encode returns the compact form of the record:
// MFN#STATUS<D>0#VERSION<D>(FIELD<D>)*
func Encode(r *MarcRecord) string {
	return EncodeWith(r, IrbisDelimiter)
}

// EncodeWith encodes the record using an arbitrary line delimiter.
func EncodeWith(r *MarcRecord, delimiter string) string {
	var sb strings.Builder
	first, second := r.header()
	sb.WriteString(first)
	sb.WriteString(delimiter)
	sb.WriteString(second)
	sb.WriteString(delimiter)
	for i := range r.Fields {
		sb.WriteString(r.Fields[i].Encode())
		sb.WriteString(delimiter)
	}
	return sb.String()
}

// EncodeLines returns the record as separate lines, header first.
func EncodeLines(r *MarcRecord) []string {
	first, second := r.header()
	lines := make([]string, 0, len(r.Fields)+2)
	lines = append(lines, first, second)
	for i := range r.Fields {
		lines = append(lines, r.Fields[i].Encode())
	}
	return lines
}

// Decode parses compact text produced by Encode.
func Decode(text string) (*MarcRecord, error) {
	r := &MarcRecord{}
	if err := DecodeInto(r, IrbisToLines(text)); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeLines parses a record from lines as the server sends them.
func DecodeLines(lines []string) (*MarcRecord, error) {
	r := &MarcRecord{}
	if err := DecodeInto(r, lines); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeInto replaces the content of r with the record in lines, keeping the
// database. The first two lines are the MFN#STATUS and 0#VERSION lines; every
// following non-empty line is a field. On error r is left untouched.
func DecodeInto(r *MarcRecord, lines []string) error {
	if len(lines) < 2 {
		return &DecodeError{Line: strings.Join(lines, "|"), Message: "record header is incomplete"}
	}

	var decoded MarcRecord
	if err := decoded.applyHeader(lines[0], lines[1]); err != nil {
		return err
	}
	for _, line := range lines[2:] {
		if line == "" {
			continue
		}
		field, err := ParseField(line)
		if err != nil {
			return err
		}
		decoded.Fields = append(decoded.Fields, field)
	}

	r.Clear()
	r.Mfn = decoded.Mfn
	r.Status = decoded.Status
	r.Version = decoded.Version
	r.Fields = append(r.Fields, decoded.Fields...)
	return nil
}

func decodeRune(s string) (rune, int) {
	return utf8.DecodeRuneInString(s)
}
