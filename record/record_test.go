package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *MarcRecord {
	r := New("IBIS")
	r.Mfn = 123
	r.Version = 7
	r.Status = StatusNonActualized
	r.Add(200, "", SubField{'a', "Title"}, SubField{'e', "subtitle"}, SubField{'f', "Author"})
	r.Add(700, "", SubField{'a', "Ivanov"}, SubField{'b', "I. I."})
	r.Add(700, "", SubField{'a', "Petrov"})
	r.Add(920, "PAZK")
	r.Add(999, "direct", SubField{'x', ""}, SubField{'Y', "upper"})
	return r
}

func TestEncode(t *testing.T) {
	r := New("IBIS")
	r.Mfn = 1
	r.Version = 2
	r.Add(100, "value", SubField{'a', "x"})
	r.Add(200, "", SubField{'b', "y"}, SubField{'c', ""})

	expected := "1#0\x1F\x1E0#2\x1F\x1E100#value^ax\x1F\x1E200#^by^c\x1F\x1E"
	assert.Equal(t, expected, Encode(r))
	assert.Equal(t, []string{"1#0", "0#2", "100#value^ax", "200#^by^c"}, EncodeLines(r))
}

func TestDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		record *MarcRecord
	}{
		{name: "sample", record: sampleRecord()},
		{name: "no fields", record: &MarcRecord{Mfn: 5, Version: 1}},
		{name: "deleted", record: New("X").Add(1, "a")},
		{name: "unicode", record: New("X").Add(200, "", SubField{'a', "Война и мир"}, SubField{'ж', "код"})},
		{name: "empty field", record: New("X").Add(10, "")},
	}
	tests[2].record.Status = StatusLogicallyDeleted | StatusLast

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode(Encode(tt.record))
			require.NoError(t, err)
			assert.True(t, tt.record.Equal(decoded), "got %s", decoded)
			assert.Equal(t, Encode(tt.record), Encode(decoded))
		})
	}
}

func TestDecodeLines(t *testing.T) {
	r, err := DecodeLines([]string{"42#64", "0#3", "10#^a978-5^d100", "", "200#^aTitle"})
	require.NoError(t, err)

	assert.Equal(t, 42, r.Mfn)
	assert.Equal(t, 3, r.Version)
	assert.True(t, r.Status.Has(StatusLocked))
	require.Len(t, r.Fields, 2)
	assert.Equal(t, "978-5", r.FmCode(10, 'a'))
	assert.Equal(t, "100", r.FmCode(10, 'D'))
	assert.Equal(t, "Title", r.FmCode(200, 'a'))
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeLines([]string{"1#0"})
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	_, err = DecodeLines([]string{"x#0", "0#1"})
	require.ErrorAs(t, err, &decodeErr)

	_, err = DecodeLines([]string{"1#0", "0#1", "no separator"})
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeIntoRepopulates(t *testing.T) {
	r := sampleRecord()
	require.NoError(t, DecodeInto(r, []string{"9#0", "0#1", "1#one"}))

	assert.Equal(t, "IBIS", r.Database)
	assert.Equal(t, 9, r.Mfn)
	require.Len(t, r.Fields, 1)
	assert.Equal(t, "one", r.Fm(1))
}

func TestDecodeIntoKeepsRecordOnError(t *testing.T) {
	for name, lines := range map[string][]string{
		"header": {"garbage", "0#1", "1#one"},
		"field":  {"9#0", "0#1", "1#one", "no separator"},
	} {
		t.Run(name, func(t *testing.T) {
			r := sampleRecord()

			var decodeErr *DecodeError
			require.ErrorAs(t, DecodeInto(r, lines), &decodeErr)

			assert.True(t, r.Equal(sampleRecord()), "record changed: %s", r)
		})
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		line     string
		expected RecordField
	}{
		{"100#", RecordField{Tag: 100}},
		{"100#plain", RecordField{Tag: 100, Value: "plain"}},
		{"100#^aA^bB", RecordField{Tag: 100, SubFields: []SubField{{'a', "A"}, {'b', "B"}}}},
		{"100#val^aA", RecordField{Tag: 100, Value: "val", SubFields: []SubField{{'a', "A"}}}},
		{"100#^a^b", RecordField{Tag: 100, SubFields: []SubField{{'a', ""}, {'b', ""}}}},
		{"100#^aA^", RecordField{Tag: 100, SubFields: []SubField{{'a', "A"}}}},
		{"7#a#b", RecordField{Tag: 7, Value: "a#b"}},
		{"200#^жЖук", RecordField{Tag: 200, SubFields: []SubField{{'ж', "Жук"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			field, err := ParseField(tt.line)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(&field), "got %#v", field)
		})
	}

	_, err := ParseField("-5#x")
	assert.Error(t, err)
}

func TestDelimiterConversion(t *testing.T) {
	inputs := []string{
		"",
		"single",
		"a\r\nb\r\nc",
		"\r\n\r\n",
		"trailing\r\n",
	}
	for _, s := range inputs {
		assert.Equal(t, s, IrbisToWindows(WindowsToIrbis(s)))
		assert.Equal(t, WindowsToIrbis(s), WindowsToIrbis(IrbisToWindows(WindowsToIrbis(s))))
	}

	assert.Equal(t, "a\x1F\x1Eb", WindowsToIrbis("a\r\nb"))
	assert.Equal(t, []string{"a", "b", ""}, IrbisToLines("a\x1F\x1Eb\x1F\x1E"))
}

func TestSubFieldCaseInsensitive(t *testing.T) {
	assert.True(t, SubField{'a', "x"}.Equal(SubField{'A', "x"}))
	assert.False(t, SubField{'a', "x"}.Equal(SubField{'a', "X"}))
	assert.Equal(t, 0, CompareSubFields(SubField{'B', "v"}, SubField{'b', "v"}))
	assert.Equal(t, -1, CompareSubFields(SubField{'a', "z"}, SubField{'B', "a"}))
	assert.Equal(t, 1, CompareSubFields(SubField{'c', "a"}, SubField{'C', "_"}))
}

func TestRecordHelpers(t *testing.T) {
	r := sampleRecord()

	assert.Equal(t, []string{"Ivanov", "Petrov"}, r.FmaCode(700, 'a'))
	assert.Equal(t, "PAZK", r.Fm(920))
	assert.Equal(t, "upper", r.FmCode(999, 'y'))
	assert.Equal(t, "direct", r.Field(999, 0).SubFieldValue('*'))
	assert.Nil(t, r.Field(700, 2))
	assert.Len(t, r.FieldsByTag(700), 2)

	r.SetField(920, "SPEC")
	assert.Equal(t, []string{"SPEC"}, r.Fma(920))

	assert.Equal(t, 2, r.RemoveField(700))
	assert.Empty(t, r.FieldsByTag(700))

	f := r.Field(200, 0)
	f.SetSubField('e', "")
	f.SetSubField('F', "Other")
	f.SetSubField('z', "new")
	assert.Equal(t, "200#^aTitle^fOther^znew", f.Encode())

	clone := r.Clone()
	clone.Field(200, 0).SubFields[0].Value = "changed"
	assert.Equal(t, "Title", r.FmCode(200, 'a'))

	r.Status = StatusLogicallyDeleted
	assert.True(t, r.IsDeleted())
}

func TestRecordString(t *testing.T) {
	r := New("IBIS").Add(1, "a")
	r.Mfn = 3
	assert.Equal(t, "3#0\r\n0#0\r\n1#a\r\n", r.String())
}
