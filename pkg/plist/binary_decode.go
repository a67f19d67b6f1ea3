package plist

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// maxObjectDepth bounds recursion while decoding nested containers.
const maxObjectDepth = 512

type binDecoder struct {
	data    []byte
	offsets []uint64
	refSize int
}

// decodeBinary parses a binary property list.
func decodeBinary(data []byte) (*Value, error) {
	if !IsBinary(data) {
		return nil, formatErr(FormatBinary, "missing bplist00 signature")
	}
	if len(data) < len(binaryMagic)+trailerSize {
		return nil, formatErr(FormatBinary, "input shorter than header and trailer")
	}

	trailer := data[len(data)-trailerSize:]
	offsetSize := int(trailer[6])
	refSize := int(trailer[7])
	numObjects := binary.BigEndian.Uint64(trailer[8:16])
	topObject := binary.BigEndian.Uint64(trailer[16:24])
	tableStart := binary.BigEndian.Uint64(trailer[24:32])

	if offsetSize < 1 || offsetSize > 8 || refSize < 1 || refSize > 8 {
		return nil, formatErr(FormatBinary, "invalid trailer int sizes %d/%d", offsetSize, refSize)
	}
	if numObjects == 0 {
		return nil, formatErr(FormatBinary, "zero objects")
	}
	if topObject >= numObjects {
		return nil, formatErr(FormatBinary, "top object %d out of range", topObject)
	}
	payloadEnd := uint64(len(data) - trailerSize)
	if tableStart < uint64(len(binaryMagic)) || tableStart > payloadEnd {
		return nil, formatErr(FormatBinary, "offset table out of bounds")
	}
	// Divide rather than multiply so a huge object count cannot wrap the
	// bounds arithmetic before allocation.
	if numObjects > (payloadEnd-tableStart)/uint64(offsetSize) {
		return nil, formatErr(FormatBinary, "object count %d exceeds offset table capacity", numObjects)
	}

	d := &binDecoder{data: data[:len(data)-trailerSize], refSize: refSize}
	d.offsets = make([]uint64, numObjects)
	for i := uint64(0); i < numObjects; i++ {
		off := readSizedUint(data[tableStart+i*uint64(offsetSize):], offsetSize)
		if off >= uint64(len(d.data)) {
			return nil, formatErr(FormatBinary, "object %d offset out of bounds", i)
		}
		d.offsets[i] = off
	}

	return d.parseObject(topObject, 0)
}

func (d *binDecoder) parseObject(ref uint64, depth int) (*Value, error) {
	if depth > maxObjectDepth {
		return nil, formatErr(FormatBinary, "object nesting exceeds %d levels", maxObjectDepth)
	}
	if ref >= uint64(len(d.offsets)) {
		return nil, formatErr(FormatBinary, "object reference %d out of range", ref)
	}
	pos := d.offsets[ref]
	marker := d.data[pos]
	pos++

	switch marker >> 4 {
	case 0x0:
		switch marker {
		case markerNull:
			return New(), nil
		case markerFalse:
			return NewBool(false), nil
		case markerTrue:
			return NewBool(true), nil
		}
		return nil, formatErr(FormatBinary, "unknown marker 0x%02x", marker)

	case 0x1:
		size := 1 << (marker & 0x0F)
		if size > 16 {
			return nil, formatErr(FormatBinary, "integer width %d unsupported", size)
		}
		raw, err := d.slice(pos, uint64(size))
		if err != nil {
			return nil, err
		}
		if size == 16 {
			// High quad carries sign extension only; the payload is the
			// low 8 bytes.
			raw = raw[8:]
			size = 8
		}
		return NewUint(readSizedUint(raw, size)), nil

	case 0x2:
		size := 1 << (marker & 0x0F)
		raw, err := d.slice(pos, uint64(size))
		if err != nil {
			return nil, err
		}
		switch size {
		case 4:
			return NewReal(float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))), nil
		case 8:
			return NewReal(math.Float64frombits(binary.BigEndian.Uint64(raw))), nil
		}
		return nil, formatErr(FormatBinary, "real width %d unsupported", size)

	case 0x3:
		if marker != markerDate {
			return nil, formatErr(FormatBinary, "unknown marker 0x%02x", marker)
		}
		raw, err := d.slice(pos, 8)
		if err != nil {
			return nil, err
		}
		secs := math.Float64frombits(binary.BigEndian.Uint64(raw))
		sec, frac := math.Modf(secs)
		return NewDate(int64(sec), int64(math.Round(frac*float64(microsPerSecond)))), nil

	case 0x4:
		count, pos, err := d.readCount(marker, pos)
		if err != nil {
			return nil, err
		}
		raw, err := d.slice(pos, count)
		if err != nil {
			return nil, err
		}
		return NewData(raw), nil

	case 0x5:
		count, pos, err := d.readCount(marker, pos)
		if err != nil {
			return nil, err
		}
		raw, err := d.slice(pos, count)
		if err != nil {
			return nil, err
		}
		return NewString(string(raw)), nil

	case 0x6:
		count, pos, err := d.readCount(marker, pos)
		if err != nil {
			return nil, err
		}
		raw, err := d.slice(pos, count*2)
		if err != nil {
			return nil, err
		}
		units := make([]uint16, count)
		for i := range units {
			units[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
		}
		return NewString(string(utf16.Decode(units))), nil

	case 0x8:
		size := uint64(marker&0x0F) + 1
		raw, err := d.slice(pos, size)
		if err != nil {
			return nil, err
		}
		return NewUID(readSizedUint(raw, int(size))), nil

	case 0xA, 0xC:
		count, pos, err := d.readCount(marker, pos)
		if err != nil {
			return nil, err
		}
		refs, err := d.readRefs(pos, count)
		if err != nil {
			return nil, err
		}
		arr := NewArray()
		for _, r := range refs {
			child, err := d.parseObject(r, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(child)
		}
		return arr, nil

	case 0xD:
		count, pos, err := d.readCount(marker, pos)
		if err != nil {
			return nil, err
		}
		refs, err := d.readRefs(pos, count*2)
		if err != nil {
			return nil, err
		}
		dict := NewDict()
		for i := uint64(0); i < count; i++ {
			keyVal, err := d.parseObject(refs[i], depth+1)
			if err != nil {
				return nil, err
			}
			key, ok := keyVal.AsString()
			if !ok {
				return nil, formatErr(FormatBinary, "dictionary key is %s, not a string", keyVal.Type())
			}
			child, err := d.parseObject(refs[count+i], depth+1)
			if err != nil {
				return nil, err
			}
			dict.Set(key, child)
		}
		return dict, nil

	default:
		return nil, formatErr(FormatBinary, "unknown marker 0x%02x", marker)
	}
}

// readCount resolves the object count from the marker's low nibble,
// reading a following integer object when the nibble is 15.
func (d *binDecoder) readCount(marker byte, pos uint64) (count, next uint64, err error) {
	nib := uint64(marker & 0x0F)
	if nib < 15 {
		return nib, pos, nil
	}
	raw, err := d.slice(pos, 1)
	if err != nil {
		return 0, 0, err
	}
	intMarker := raw[0]
	if intMarker>>4 != 0x1 {
		return 0, 0, formatErr(FormatBinary, "count extension is not an integer object")
	}
	size := uint64(1) << (intMarker & 0x0F)
	if size > 8 {
		return 0, 0, formatErr(FormatBinary, "count width %d unsupported", size)
	}
	raw, err = d.slice(pos+1, size)
	if err != nil {
		return 0, 0, err
	}
	count = readSizedUint(raw, int(size))
	next = pos + 1 + size
	// Every counted element occupies at least one byte, so a count beyond
	// the remaining payload is truncated input. Checking here keeps later
	// count arithmetic and allocations within slice bounds.
	if count > uint64(len(d.data))-next {
		return 0, 0, formatErr(FormatBinary, "count %d exceeds remaining data", count)
	}
	return count, next, nil
}

func (d *binDecoder) readRefs(pos, n uint64) ([]uint64, error) {
	if pos > uint64(len(d.data)) || n > (uint64(len(d.data))-pos)/uint64(d.refSize) {
		return nil, formatErr(FormatBinary, "object data truncated at offset %d", pos)
	}
	raw, err := d.slice(pos, n*uint64(d.refSize))
	if err != nil {
		return nil, err
	}
	refs := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		refs[i] = readSizedUint(raw[i*uint64(d.refSize):], d.refSize)
	}
	return refs, nil
}

func (d *binDecoder) slice(pos, n uint64) ([]byte, error) {
	if pos > uint64(len(d.data)) || n > uint64(len(d.data))-pos {
		return nil, formatErr(FormatBinary, "object data truncated at offset %d", pos)
	}
	return d.data[pos : pos+n], nil
}

func readSizedUint(raw []byte, size int) uint64 {
	var u uint64
	for i := 0; i < size; i++ {
		u = u<<8 | uint64(raw[i])
	}
	return u
}
