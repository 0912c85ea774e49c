package record

import (
	"strings"
	"unicode"
)

// SubFieldDelimiter introduces a sub-field inside a field line.
const SubFieldDelimiter = '^'

// SubField is a coded piece of a field: ^a value.
type SubField struct {
	Code  rune
	Value string
}

// Encode returns the wire form of the sub-field (^ + code + value).
func (sf SubField) Encode() string {
	var sb strings.Builder
	sb.Grow(len(sf.Value) + 2)
	sb.WriteRune(SubFieldDelimiter)
	sb.WriteRune(sf.Code)
	sb.WriteString(sf.Value)
	return sb.String()
}

func (sf SubField) String() string {
	return sf.Encode()
}

// Equal reports whether both sub-fields carry the same value under the same
// code. Codes are compared case-insensitively.
func (sf SubField) Equal(other SubField) bool {
	return SameCode(sf.Code, other.Code) && sf.Value == other.Value
}

// SameCode compares two sub-field codes ignoring case.
func SameCode(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b)
}

// CompareSubFields orders sub-fields by code (case-insensitive), then by value.
func CompareSubFields(a, b SubField) int {
	ca, cb := unicode.ToLower(a.Code), unicode.ToLower(b.Code)
	switch {
	case ca < cb:
		return -1
	case ca > cb:
		return 1
	}
	return strings.Compare(a.Value, b.Value)
}
