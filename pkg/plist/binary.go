package plist

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// Binary format markers (high nibble of the object marker byte).
const (
	markerNull   = 0x00
	markerFalse  = 0x08
	markerTrue   = 0x09
	markerInt    = 0x10
	markerReal   = 0x20
	markerDate   = 0x33
	markerData   = 0x40
	markerASCII  = 0x50
	markerUTF16  = 0x60
	markerUID    = 0x80
	markerArray  = 0xA0
	markerSet    = 0xC0
	markerDict   = 0xD0
)

// trailerSize is the fixed binary plist trailer length.
const trailerSize = 32

// binEntry is one slot of the flattened object table. A dictionary key
// occupies its own slot, written as a string object.
type binEntry struct {
	v         *Value
	key       string
	isKey     bool
	childRefs []int // arrays: children; dicts: key refs then value refs
}

type binEncoder struct {
	entries []*binEntry
	buf     bytes.Buffer
	refSize int
}

// encodeBinary serializes v as a binary property list. A nil root encodes
// as a single null object.
func encodeBinary(v *Value) ([]byte, error) {
	if v == nil {
		v = New()
	}
	e := &binEncoder{}
	e.assign(v)

	e.refSize = byteSizeFor(uint64(len(e.entries) - 1))

	e.buf.Write(binaryMagic)
	offsets := make([]uint64, len(e.entries))
	for i, ent := range e.entries {
		offsets[i] = uint64(e.buf.Len())
		e.writeEntry(ent)
	}

	offsetTableStart := uint64(e.buf.Len())
	offsetSize := byteSizeFor(offsetTableStart)
	for _, off := range offsets {
		e.writeSizedUint(off, offsetSize)
	}

	var trailer [trailerSize]byte
	trailer[6] = byte(offsetSize)
	trailer[7] = byte(e.refSize)
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(e.entries)))
	binary.BigEndian.PutUint64(trailer[16:24], 0) // top object index
	binary.BigEndian.PutUint64(trailer[24:32], offsetTableStart)
	e.buf.Write(trailer[:])

	return e.buf.Bytes(), nil
}

// assign flattens the tree into the object table, returning the index of
// the node's slot. Children follow their container; dictionary key slots
// precede the dictionary's value subtrees.
func (e *binEncoder) assign(v *Value) int {
	idx := len(e.entries)
	ent := &binEntry{v: v}
	e.entries = append(e.entries, ent)

	switch v.typ {
	case TypeArray:
		for _, c := range v.arr {
			ent.childRefs = append(ent.childRefs, e.assign(c))
		}
	case TypeDict:
		keyRefs := make([]int, 0, len(v.keys))
		for _, k := range v.keys {
			ki := len(e.entries)
			e.entries = append(e.entries, &binEntry{isKey: true, key: k})
			keyRefs = append(keyRefs, ki)
		}
		ent.childRefs = keyRefs
		for _, k := range v.keys {
			ent.childRefs = append(ent.childRefs, e.assign(v.dict[k]))
		}
	}
	return idx
}

func (e *binEncoder) writeEntry(ent *binEntry) {
	if ent.isKey {
		e.writeString(ent.key)
		return
	}
	v := ent.v
	switch v.typ {
	case TypeNone:
		e.buf.WriteByte(markerNull)
	case TypeBoolean:
		if v.b {
			e.buf.WriteByte(markerTrue)
		} else {
			e.buf.WriteByte(markerFalse)
		}
	case TypeUint:
		e.writeUint(v.u)
	case TypeReal:
		e.buf.WriteByte(markerReal | 3)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.f))
		e.buf.Write(b[:])
	case TypeDate:
		e.buf.WriteByte(markerDate)
		secs := float64(v.sec) + float64(v.usec)/float64(microsPerSecond)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(secs))
		e.buf.Write(b[:])
	case TypeData:
		e.writeMarker(markerData, len(v.data))
		e.buf.Write(v.data)
	case TypeString, TypeKey:
		e.writeString(v.s)
	case TypeUID:
		size := byteSizeFor(v.u)
		e.buf.WriteByte(markerUID | byte(size-1))
		e.writeSizedUint(v.u, size)
	case TypeArray:
		e.writeMarker(markerArray, len(ent.childRefs))
		for _, ref := range ent.childRefs {
			e.writeSizedUint(uint64(ref), e.refSize)
		}
	case TypeDict:
		e.writeMarker(markerDict, len(ent.childRefs)/2)
		for _, ref := range ent.childRefs {
			e.writeSizedUint(uint64(ref), e.refSize)
		}
	}
}

// writeMarker writes a marker byte whose low nibble is the object count,
// spilling counts of 15 or more into a following integer object.
func (e *binEncoder) writeMarker(marker byte, count int) {
	if count < 15 {
		e.buf.WriteByte(marker | byte(count))
		return
	}
	e.buf.WriteByte(marker | 0x0F)
	e.writeUint(uint64(count))
}

// writeUint writes an integer object. Values above MaxInt64 use the
// 16-byte form so that signed readers do not misinterpret them.
func (e *binEncoder) writeUint(u uint64) {
	if u > math.MaxInt64 {
		e.buf.WriteByte(markerInt | 4)
		var b [16]byte
		binary.BigEndian.PutUint64(b[8:], u)
		e.buf.Write(b[:])
		return
	}
	size := byteSizeFor(u)
	switch size {
	case 1:
		e.buf.WriteByte(markerInt | 0)
	case 2:
		e.buf.WriteByte(markerInt | 1)
	case 4:
		e.buf.WriteByte(markerInt | 2)
	default:
		size = 8
		e.buf.WriteByte(markerInt | 3)
	}
	e.writeSizedUint(u, size)
}

func (e *binEncoder) writeString(s string) {
	if isASCII(s) {
		e.writeMarker(markerASCII, len(s))
		e.buf.WriteString(s)
		return
	}
	units := utf16.Encode([]rune(s))
	e.writeMarker(markerUTF16, len(units))
	for _, u := range units {
		e.buf.WriteByte(byte(u >> 8))
		e.buf.WriteByte(byte(u))
	}
}

func (e *binEncoder) writeSizedUint(u uint64, size int) {
	for i := size - 1; i >= 0; i-- {
		e.buf.WriteByte(byte(u >> (8 * i)))
	}
}

// byteSizeFor returns the minimal power-of-two byte width (1/2/4/8)
// holding u.
func byteSizeFor(u uint64) int {
	switch {
	case u < 1<<8:
		return 1
	case u < 1<<16:
		return 2
	case u < 1<<32:
		return 4
	default:
		return 8
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
