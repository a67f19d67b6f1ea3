package plist

import (
	"bytes"
	"fmt"
)

// Format selects one of the three wire encodings.
type Format uint8

const (
	// FormatBinary is the compact binary property-list encoding.
	FormatBinary Format = iota
	// FormatXML is the PLIST 1.0 XML document encoding.
	FormatXML
	// FormatJSON is a lossy JSON rendering: dates become RFC3339 strings
	// and UIDs plain integers. Callers must not expect date/UID nodes to
	// round-trip through JSON.
	FormatJSON
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// binaryMagic prefixes every binary property list.
var binaryMagic = []byte("bplist00")

// FormatError reports malformed input to one of the decoders. Decoding
// never returns a partial tree alongside a FormatError.
type FormatError struct {
	Format Format
	Msg    string
	Err    error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plist: malformed %s: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("plist: malformed %s: %s", e.Format, e.Msg)
}

// Unwrap returns the underlying cause, if any.
func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(f Format, msg string, args ...any) *FormatError {
	return &FormatError{Format: f, Msg: fmt.Sprintf(msg, args...)}
}

// Encode serializes the tree rooted at v in the given format.
func Encode(v *Value, format Format) ([]byte, error) {
	switch format {
	case FormatBinary:
		return encodeBinary(v)
	case FormatXML:
		return encodeXML(v)
	case FormatJSON:
		return encodeJSON(v)
	default:
		return nil, fmt.Errorf("plist: unsupported format %d", format)
	}
}

// Decode parses data in the given format into a tree.
func Decode(data []byte, format Format) (*Value, error) {
	switch format {
	case FormatBinary:
		return decodeBinary(data)
	case FormatXML:
		return decodeXML(data)
	case FormatJSON:
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("plist: unsupported format %d", format)
	}
}

// DecodeAuto parses data as a binary property list when the binary magic
// is present and falls back to XML otherwise.
func DecodeAuto(data []byte) (*Value, error) {
	if IsBinary(data) {
		return decodeBinary(data)
	}
	return decodeXML(data)
}

// IsBinary reports whether data starts with the binary plist signature.
func IsBinary(data []byte) bool {
	return bytes.HasPrefix(data, binaryMagic)
}
