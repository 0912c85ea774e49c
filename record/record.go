package record

import (
	"strconv"
	"strings"
)

// Status is the bit set the server keeps for every record.
type Status int

const (
	StatusLogicallyDeleted  Status = 1
	StatusPhysicallyDeleted Status = 2
	StatusAbsent            Status = 4
	StatusNonActualized     Status = 8
	StatusLast              Status = 32
	StatusLocked            Status = 64

	// StatusDeleted covers both kinds of deletion.
	StatusDeleted = StatusLogicallyDeleted | StatusPhysicallyDeleted
)

// Has reports whether every bit of flag is set.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// MarcRecord is a bibliographic record: a server-assigned MFN, an edit
// version, a status and the ordered list of fields it owns.
type MarcRecord struct {
	Database string
	Mfn      int
	Version  int
	Status   Status
	Fields   []RecordField
}

// New returns an empty record bound to a database.
func New(database string) *MarcRecord {
	return &MarcRecord{Database: database}
}

// Add appends a field and returns the record for chaining.
func (r *MarcRecord) Add(tag int, value string, subFields ...SubField) *MarcRecord {
	r.Fields = append(r.Fields, NewField(tag, value, subFields...))
	return r
}

// AddField appends a copy of field.
func (r *MarcRecord) AddField(field RecordField) *MarcRecord {
	r.Fields = append(r.Fields, field)
	return r
}

// Field returns the occurrence-th (0-based) field with the tag, or nil.
// The pointer is valid until the next change of r.Fields.
func (r *MarcRecord) Field(tag, occurrence int) *RecordField {
	for i := range r.Fields {
		if r.Fields[i].Tag != tag {
			continue
		}
		if occurrence == 0 {
			return &r.Fields[i]
		}
		occurrence--
	}
	return nil
}

// FieldsByTag returns pointers to every field with the tag.
func (r *MarcRecord) FieldsByTag(tag int) []*RecordField {
	var result []*RecordField
	for i := range r.Fields {
		if r.Fields[i].Tag == tag {
			result = append(result, &r.Fields[i])
		}
	}
	return result
}

// Fm returns the direct value of the first field with the tag.
func (r *MarcRecord) Fm(tag int) string {
	if f := r.Field(tag, 0); f != nil {
		return f.Value
	}
	return ""
}

// FmCode returns the first value of sub-field code in the first field with the tag.
func (r *MarcRecord) FmCode(tag int, code rune) string {
	if f := r.Field(tag, 0); f != nil {
		return f.SubFieldValue(code)
	}
	return ""
}

// Fma returns the non-empty direct values of every field with the tag.
func (r *MarcRecord) Fma(tag int) []string {
	var result []string
	for i := range r.Fields {
		if r.Fields[i].Tag == tag && r.Fields[i].Value != "" {
			result = append(result, r.Fields[i].Value)
		}
	}
	return result
}

// FmaCode returns the non-empty values of sub-field code across every field with the tag.
func (r *MarcRecord) FmaCode(tag int, code rune) []string {
	var result []string
	for i := range r.Fields {
		if r.Fields[i].Tag != tag {
			continue
		}
		if v := r.Fields[i].SubFieldValue(code); v != "" {
			result = append(result, v)
		}
	}
	return result
}

// RemoveField drops every field with the tag and returns how many were removed.
func (r *MarcRecord) RemoveField(tag int) int {
	kept := r.Fields[:0]
	for _, f := range r.Fields {
		if f.Tag != tag {
			kept = append(kept, f)
		}
	}
	removed := len(r.Fields) - len(kept)
	clear(r.Fields[len(kept):])
	r.Fields = kept
	return removed
}

// SetField replaces the direct value of the first field with the tag, adding
// the field when missing. An empty value removes every field with the tag.
func (r *MarcRecord) SetField(tag int, value string) *MarcRecord {
	if value == "" {
		r.RemoveField(tag)
		return r
	}
	if f := r.Field(tag, 0); f != nil {
		f.Value = value
		return r
	}
	return r.Add(tag, value)
}

// IsDeleted reports whether the record is logically or physically deleted.
func (r *MarcRecord) IsDeleted() bool {
	return r.Status&StatusDeleted != 0
}

// Clear drops the fields and resets identification, keeping the database.
func (r *MarcRecord) Clear() {
	r.Mfn = 0
	r.Version = 0
	r.Status = 0
	r.Fields = r.Fields[:0]
}

// Clone returns a deep copy.
func (r *MarcRecord) Clone() *MarcRecord {
	clone := &MarcRecord{
		Database: r.Database,
		Mfn:      r.Mfn,
		Version:  r.Version,
		Status:   r.Status,
	}
	if r.Fields != nil {
		clone.Fields = make([]RecordField, len(r.Fields))
		for i := range r.Fields {
			clone.Fields[i] = r.Fields[i].Clone()
		}
	}
	return clone
}

// Equal compares identification, status and fields in order. The database
// name is not part of the encoded form and is ignored.
func (r *MarcRecord) Equal(other *MarcRecord) bool {
	if r.Mfn != other.Mfn || r.Version != other.Version || r.Status != other.Status {
		return false
	}
	if len(r.Fields) != len(other.Fields) {
		return false
	}
	for i := range r.Fields {
		if !r.Fields[i].Equal(&other.Fields[i]) {
			return false
		}
	}
	return true
}

// String renders the record one line per field, CRLF separated.
func (r *MarcRecord) String() string {
	return IrbisToWindows(Encode(r))
}

func (r *MarcRecord) header() (string, string) {
	return strconv.Itoa(r.Mfn) + "#" + strconv.Itoa(int(r.Status)),
		"0#" + strconv.Itoa(r.Version)
}

func (r *MarcRecord) applyHeader(first, second string) error {
	mfnText, statusText, _ := strings.Cut(first, "#")
	mfn, err := strconv.Atoi(strings.TrimSpace(mfnText))
	if err != nil {
		return &DecodeError{Line: first, Message: "invalid MFN", Err: err}
	}
	status := 0
	if statusText = strings.TrimSpace(statusText); statusText != "" {
		if status, err = strconv.Atoi(statusText); err != nil {
			return &DecodeError{Line: first, Message: "invalid status", Err: err}
		}
	}

	_, versionText, _ := strings.Cut(second, "#")
	version := 0
	if versionText = strings.TrimSpace(versionText); versionText != "" {
		if version, err = strconv.Atoi(versionText); err != nil {
			return &DecodeError{Line: second, Message: "invalid version", Err: err}
		}
	}

	r.Mfn = mfn
	r.Status = Status(status)
	r.Version = version
	return nil
}
