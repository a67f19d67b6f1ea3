package plist

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSample returns a tree exercising every variant except dates and
// UIDs, which have their own fidelity rules.
func buildSample() *Value {
	apps := NewArray()
	for _, id := range []string{"com.example.one", "com.example.two"} {
		app := NewDict()
		app.Set("CFBundleIdentifier", NewString(id))
		app.Set("ApplicationType", NewString("User"))
		apps.Append(app)
	}

	root := NewDict()
	root.Set("DeviceName", NewString("Pat's iPhone"))
	root.Set("Unicode", NewString("héllo wörld ✓"))
	root.Set("TotalDiskCapacity", NewUint(128_000_000_000))
	root.Set("BatteryLevel", NewReal(0.87))
	root.Set("PasswordProtected", NewBool(false))
	root.Set("WiFiAddress", NewData([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}))
	root.Set("Applications", apps)
	root.Set("Empty", NewDict())
	root.Set("LongKeyThatExceedsTheInlineMarkerCountOfFifteenCharacters", NewUint(1))
	return root
}

func TestBinaryRoundTrip(t *testing.T) {
	orig := buildSample()

	data, err := Encode(orig, FormatBinary)
	require.NoError(t, err)
	assert.True(t, IsBinary(data))

	decoded, err := Decode(data, FormatBinary)
	require.NoError(t, err)
	assert.True(t, Equal(orig, decoded), "binary round trip changed the tree")
}

func TestXMLRoundTrip(t *testing.T) {
	orig := buildSample()

	data, err := Encode(orig, FormatXML)
	require.NoError(t, err)
	assert.False(t, IsBinary(data))
	assert.Contains(t, string(data), "<!DOCTYPE plist")

	decoded, err := Decode(data, FormatXML)
	require.NoError(t, err)
	assert.True(t, Equal(orig, decoded), "XML round trip changed the tree")
}

func TestBinaryRoundTripScalars(t *testing.T) {
	tests := []struct {
		name string
		v    *Value
	}{
		{"none", New()},
		{"true", NewBool(true)},
		{"zero", NewUint(0)},
		{"one byte int", NewUint(200)},
		{"two byte int", NewUint(40_000)},
		{"four byte int", NewUint(3_000_000_000)},
		{"eight byte int", NewUint(1 << 40)},
		{"above signed range", NewUint(1<<63 + 5)},
		{"real", NewReal(-2.5)},
		{"ascii string", NewString("plain")},
		{"utf16 string", NewString("über \U0001F600")},
		{"empty string", NewString("")},
		{"data", NewData([]byte{0, 1, 2, 255})},
		{"uid", NewUID(0xDEADBEEF)},
		{"empty array", NewArray()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.v, FormatBinary)
			require.NoError(t, err)
			decoded, err := Decode(data, FormatBinary)
			require.NoError(t, err)
			assert.True(t, Equal(tt.v, decoded))
		})
	}
}

func TestBinaryDateFidelity(t *testing.T) {
	orig := NewDate(725846400, 250_000)

	data, err := Encode(orig, FormatBinary)
	require.NoError(t, err)
	decoded, err := Decode(data, FormatBinary)
	require.NoError(t, err)

	sec, usec, ok := decoded.DateParts()
	require.True(t, ok)
	assert.Equal(t, int64(725846400), sec)
	// The binary format stores dates as a double; microseconds survive
	// within rounding of the fractional part.
	assert.InDelta(t, 250_000, usec, 2)
}

func TestDecodeAutoPicksFormat(t *testing.T) {
	v := buildSample()

	bin, err := Encode(v, FormatBinary)
	require.NoError(t, err)
	fromBin, err := DecodeAuto(bin)
	require.NoError(t, err)
	assert.True(t, Equal(v, fromBin))

	xml, err := Encode(v, FormatXML)
	require.NoError(t, err)
	fromXML, err := DecodeAuto(xml)
	require.NoError(t, err)
	assert.True(t, Equal(v, fromXML))
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"binary too short", "bplist00xx", FormatBinary},
		{"binary bad trailer", "bplist00" + strings.Repeat("\x00", 32), FormatBinary},
		{"xml truncated", `<plist version="1.0"><dict><key>a</key>`, FormatXML},
		{"xml key without value", `<plist version="1.0"><dict><key>a</key></dict></plist>`, FormatXML},
		{"xml bad integer", `<integer>twelve</integer>`, FormatXML},
		{"xml unknown element", `<plist version="1.0"><widget/></plist>`, FormatXML},
		{"json garbage", `{"a": `, FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.Nil(t, v, "malformed input must not yield a partial tree")

			var fe *FormatError
			assert.True(t, errors.As(err, &fe), "error should be a *FormatError, got %T", err)
		})
	}
}

// binaryTrailer builds the 32-byte binary plist trailer.
func binaryTrailer(offsetSize, refSize byte, numObjects, topObject, tableStart uint64) []byte {
	trailer := make([]byte, 32)
	trailer[6] = offsetSize
	trailer[7] = refSize
	binary.BigEndian.PutUint64(trailer[8:16], numObjects)
	binary.BigEndian.PutUint64(trailer[16:24], topObject)
	binary.BigEndian.PutUint64(trailer[24:32], tableStart)
	return trailer
}

func TestDecodeBinaryRejectsOversizedCounts(t *testing.T) {
	be64 := func(u uint64) []byte {
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], u)
		return raw[:]
	}
	join := func(parts ...[]byte) []byte {
		var data []byte
		for _, p := range parts {
			data = append(data, p...)
		}
		return data
	}
	magic := []byte("bplist00")

	tests := []struct {
		name string
		data []byte
	}{
		{
			// Object count whose offset table could never fit the input.
			"object count overflows offset table",
			join(magic, binaryTrailer(8, 8, 1<<61, 0, 8)),
		},
		{
			// UTF-16 string claiming 1<<63 units; the byte length wraps
			// to zero.
			"utf16 count wraps byte length",
			join(magic, []byte{0x6f, 0x13}, be64(1<<63), []byte{0x08},
				binaryTrailer(1, 1, 1, 0, 18)),
		},
		{
			// Array claiming 1<<61 refs of 8 bytes; the ref span wraps
			// to zero.
			"array ref count wraps ref span",
			join(magic, []byte{0xaf, 0x13}, be64(1<<61), []byte{0x08},
				binaryTrailer(1, 8, 1, 0, 18)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.data, FormatBinary)
			require.Error(t, err)
			assert.Nil(t, v)

			var fe *FormatError
			assert.True(t, errors.As(err, &fe), "error should be a *FormatError, got %T", err)
		})
	}
}

func TestXMLUIDSpelling(t *testing.T) {
	uid := NewUID(42)
	data, err := Encode(uid, FormatXML)
	require.NoError(t, err)
	assert.Contains(t, string(data), "CF$UID")

	decoded, err := Decode(data, FormatXML)
	require.NoError(t, err)
	got, ok := decoded.AsUID()
	require.True(t, ok)
	assert.Equal(t, uint64(42), got)
}

func TestXMLEscaping(t *testing.T) {
	d := NewDict()
	d.Set("a<b", NewString("x & y > z"))

	data, err := Encode(d, FormatXML)
	require.NoError(t, err)
	decoded, err := Decode(data, FormatXML)
	require.NoError(t, err)
	assert.True(t, Equal(d, decoded))
}

func TestJSONRoundTripNativeTypes(t *testing.T) {
	d := NewDict()
	d.Set("name", NewString("test"))
	d.Set("n", NewUint(5))
	d.Set("r", NewReal(1.5))
	d.Set("ok", NewBool(true))
	d.Set("list", NewArray(NewString("a"), NewUint(2)))

	data, err := Encode(d, FormatJSON)
	require.NoError(t, err)
	decoded, err := Decode(data, FormatJSON)
	require.NoError(t, err)
	assert.True(t, Equal(d, decoded))
}

func TestJSONIsLossyForDatesAndUIDs(t *testing.T) {
	d := NewDict()
	d.Set("when", NewDate(100, 0))
	d.Set("ref", NewUID(9))

	data, err := Encode(d, FormatJSON)
	require.NoError(t, err)
	decoded, err := Decode(data, FormatJSON)
	require.NoError(t, err)

	// Dates come back as strings and UIDs as plain integers. Documented
	// behavior, so assert the degraded types rather than equality.
	assert.Equal(t, TypeString, decoded.Get("when").Type())
	assert.Equal(t, TypeUint, decoded.Get("ref").Type())
}

func TestDecodeXMLWithoutPlistWrapper(t *testing.T) {
	decoded, err := Decode([]byte(`<string>bare</string>`), FormatXML)
	require.NoError(t, err)
	s, ok := decoded.AsString()
	require.True(t, ok)
	assert.Equal(t, "bare", s)
}
