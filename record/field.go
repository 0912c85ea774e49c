package record

import (
	"strconv"
	"strings"
)

// FieldSeparator splits the tag from the body of a field line.
const FieldSeparator = '#'

// RecordField is a tagged field: an optional direct value followed by
// zero or more sub-fields, in order.
type RecordField struct {
	Tag       int
	Value     string
	SubFields []SubField
}

// NewField builds a field with the given tag, direct value and sub-fields.
func NewField(tag int, value string, subFields ...SubField) RecordField {
	return RecordField{Tag: tag, Value: value, SubFields: subFields}
}

// Add appends a sub-field and returns the field for chaining.
func (f *RecordField) Add(code rune, value string) *RecordField {
	f.SubFields = append(f.SubFields, SubField{Code: code, Value: value})
	return f
}

// SubField returns the first sub-field with the given code, or nil.
func (f *RecordField) SubField(code rune) *SubField {
	for i := range f.SubFields {
		if SameCode(f.SubFields[i].Code, code) {
			return &f.SubFields[i]
		}
	}
	return nil
}

// SubFieldValue returns the value of the first sub-field with the given
// code. Code '*' means the direct value or, when empty, the first sub-field.
func (f *RecordField) SubFieldValue(code rune) string {
	if code == '*' {
		if f.Value != "" || len(f.SubFields) == 0 {
			return f.Value
		}
		return f.SubFields[0].Value
	}
	if sf := f.SubField(code); sf != nil {
		return sf.Value
	}
	return ""
}

// SetSubField replaces the value of the first sub-field with the code,
// appending a new sub-field when none exists. An empty value removes it.
func (f *RecordField) SetSubField(code rune, value string) *RecordField {
	for i := range f.SubFields {
		if !SameCode(f.SubFields[i].Code, code) {
			continue
		}
		if value == "" {
			f.SubFields = append(f.SubFields[:i], f.SubFields[i+1:]...)
			return f
		}
		f.SubFields[i].Value = value
		return f
	}
	if value != "" {
		f.Add(code, value)
	}
	return f
}

// IsEmpty reports whether the field has neither a value nor sub-fields.
func (f *RecordField) IsEmpty() bool {
	return f.Value == "" && len(f.SubFields) == 0
}

// Equal compares tag, value and sub-fields in order.
func (f *RecordField) Equal(other *RecordField) bool {
	if f.Tag != other.Tag || f.Value != other.Value || len(f.SubFields) != len(other.SubFields) {
		return false
	}
	for i := range f.SubFields {
		if !f.SubFields[i].Equal(other.SubFields[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (f *RecordField) Clone() RecordField {
	clone := RecordField{Tag: f.Tag, Value: f.Value}
	if f.SubFields != nil {
		clone.SubFields = append([]SubField(nil), f.SubFields...)
	}
	return clone
}

// Encode returns the wire form TAG#VALUE^aVALUE...
func (f *RecordField) Encode() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(f.Tag))
	sb.WriteByte(FieldSeparator)
	f.encodeBody(&sb)
	return sb.String()
}

// Text returns the field body without the tag prefix.
func (f *RecordField) Text() string {
	var sb strings.Builder
	f.encodeBody(&sb)
	return sb.String()
}

func (f *RecordField) encodeBody(sb *strings.Builder) {
	sb.WriteString(f.Value)
	for _, sf := range f.SubFields {
		sb.WriteRune(SubFieldDelimiter)
		sb.WriteRune(sf.Code)
		sb.WriteString(sf.Value)
	}
}

func (f *RecordField) String() string {
	return f.Encode()
}

// ParseField decodes a single field line.
//
// Everything before the first '#' is the tag. The text up to the first '^'
// is the direct value; every following '^' introduces a sub-field whose code
// is the next character. A bare '^' at the end of the line is dropped.
func ParseField(line string) (RecordField, error) {
	tagText, body, found := strings.Cut(line, string(FieldSeparator))
	if !found {
		return RecordField{}, &DecodeError{Line: line, Message: "missing tag separator"}
	}

	tag, err := parseTag(tagText)
	if err != nil {
		return RecordField{}, &DecodeError{Line: line, Message: "invalid tag", Err: err}
	}

	field := RecordField{Tag: tag}
	field.decodeBody(body)
	return field, nil
}

// ParseFieldText decodes a field body (no tag) into a field with the given tag.
func ParseFieldText(tag int, text string) RecordField {
	field := RecordField{Tag: tag}
	field.decodeBody(text)
	return field
}

func (f *RecordField) decodeBody(body string) {
	if body == "" {
		return
	}

	if body[0] != SubFieldDelimiter {
		idx := strings.IndexByte(body, SubFieldDelimiter)
		if idx < 0 {
			f.Value = body
			return
		}
		f.Value = body[:idx]
		body = body[idx:]
	}

	for len(body) > 0 {
		// body starts with '^' here
		body = body[1:]
		if body == "" {
			return
		}
		code, size := decodeRune(body)
		body = body[size:]

		end := strings.IndexByte(body, SubFieldDelimiter)
		if end < 0 {
			end = len(body)
		}
		f.SubFields = append(f.SubFields, SubField{Code: code, Value: body[:end]})
		body = body[end:]
	}
}

func parseTag(text string) (int, error) {
	text = strings.TrimSpace(text)
	tag, err := strconv.Atoi(text)
	if err != nil {
		return 0, err
	}
	if tag < 0 {
		return 0, strconv.ErrRange
	}
	return tag, nil
}
