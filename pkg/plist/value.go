package plist

import (
	"bytes"
	"time"
)

// Type identifies the variant stored in a Value node.
type Type uint8

const (
	// TypeNone is the absent/empty variant.
	TypeNone Type = iota
	// TypeBoolean holds a bool.
	TypeBoolean
	// TypeUint holds a 64-bit unsigned integer.
	TypeUint
	// TypeReal holds an IEEE-754 double.
	TypeReal
	// TypeString holds a UTF-8 string.
	TypeString
	// TypeDate holds seconds and microseconds since the 2001-01-01 epoch.
	TypeDate
	// TypeData holds raw bytes.
	TypeData
	// TypeArray holds an ordered sequence of child values.
	TypeArray
	// TypeDict holds a mapping of string keys to child values.
	TypeDict
	// TypeKey is a dictionary key node, produced only during iteration.
	TypeKey
	// TypeUID holds a 64-bit archive object reference.
	TypeUID
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeUint:
		return "UINT"
	case TypeReal:
		return "REAL"
	case TypeString:
		return "STRING"
	case TypeDate:
		return "DATE"
	case TypeData:
		return "DATA"
	case TypeArray:
		return "ARRAY"
	case TypeDict:
		return "DICT"
	case TypeKey:
		return "KEY"
	case TypeUID:
		return "UID"
	default:
		return "UNKNOWN"
	}
}

// appleEpoch is 2001-01-01T00:00:00Z, the reference date for TypeDate.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// microsPerSecond is the microsecond normalization bound for dates.
const microsPerSecond = 1_000_000

// Value is a node of a hierarchical property-list document.
//
// A container owns its children; Parent is a weak back-reference exposed
// only for lookup. Accessors for a variant return ok=false when the node's
// type does not match, never a panic.
type Value struct {
	typ    Type
	parent *Value

	b    bool
	u    uint64 // TypeUint and TypeUID
	f    float64
	s    string // TypeString and TypeKey
	data []byte
	sec  int64
	usec int64

	arr  []*Value
	keys []string
	dict map[string]*Value
}

// New returns a TypeNone value.
func New() *Value {
	return &Value{typ: TypeNone}
}

// NewBool returns a TypeBoolean value.
func NewBool(b bool) *Value {
	return &Value{typ: TypeBoolean, b: b}
}

// NewUint returns a TypeUint value.
func NewUint(u uint64) *Value {
	return &Value{typ: TypeUint, u: u}
}

// NewReal returns a TypeReal value.
func NewReal(f float64) *Value {
	return &Value{typ: TypeReal, f: f}
}

// NewString returns a TypeString value.
func NewString(s string) *Value {
	return &Value{typ: TypeString, s: s}
}

// NewData returns a TypeData value. The byte slice is copied.
func NewData(data []byte) *Value {
	return &Value{typ: TypeData, data: bytes.Clone(data)}
}

// NewDate returns a TypeDate value for the given seconds and microseconds
// since 2001-01-01T00:00:00Z. Microseconds are normalized into
// [0, 1000000).
func NewDate(sec, usec int64) *Value {
	sec += usec / microsPerSecond
	usec %= microsPerSecond
	if usec < 0 {
		sec--
		usec += microsPerSecond
	}
	return &Value{typ: TypeDate, sec: sec, usec: usec}
}

// NewDateFromTime returns a TypeDate value for the given time, truncated
// to microsecond precision.
func NewDateFromTime(t time.Time) *Value {
	d := t.Sub(appleEpoch)
	return NewDate(int64(d/time.Second), int64(d%time.Second)/int64(time.Microsecond))
}

// NewUID returns a TypeUID value.
func NewUID(u uint64) *Value {
	return &Value{typ: TypeUID, u: u}
}

// NewArray returns a TypeArray value holding the given children.
func NewArray(children ...*Value) *Value {
	v := &Value{typ: TypeArray}
	for _, c := range children {
		v.Append(c)
	}
	return v
}

// NewDict returns an empty TypeDict value.
func NewDict() *Value {
	return &Value{typ: TypeDict, dict: make(map[string]*Value)}
}

// Type returns the node's variant tag.
func (v *Value) Type() Type {
	if v == nil {
		return TypeNone
	}
	return v.typ
}

// IsNone reports whether the node is nil or the absent variant.
func (v *Value) IsNone() bool {
	return v == nil || v.typ == TypeNone
}

// Parent returns the owning container, or nil for a root node.
func (v *Value) Parent() *Value {
	if v == nil {
		return nil
	}
	return v.parent
}

// AsBool returns the boolean payload.
func (v *Value) AsBool() (bool, bool) {
	if v == nil || v.typ != TypeBoolean {
		return false, false
	}
	return v.b, true
}

// AsUint returns the unsigned integer payload.
func (v *Value) AsUint() (uint64, bool) {
	if v == nil || v.typ != TypeUint {
		return 0, false
	}
	return v.u, true
}

// AsReal returns the floating-point payload.
func (v *Value) AsReal() (float64, bool) {
	if v == nil || v.typ != TypeReal {
		return 0, false
	}
	return v.f, true
}

// AsString returns the string payload of a TypeString or TypeKey node.
func (v *Value) AsString() (string, bool) {
	if v == nil || (v.typ != TypeString && v.typ != TypeKey) {
		return "", false
	}
	return v.s, true
}

// AsData returns the raw byte payload. The returned slice is a copy.
func (v *Value) AsData() ([]byte, bool) {
	if v == nil || v.typ != TypeData {
		return nil, false
	}
	return bytes.Clone(v.data), true
}

// AsDate returns the date payload as a time.Time in UTC.
func (v *Value) AsDate() (time.Time, bool) {
	if v == nil || v.typ != TypeDate {
		return time.Time{}, false
	}
	return appleEpoch.Add(time.Duration(v.sec)*time.Second +
		time.Duration(v.usec)*time.Microsecond), true
}

// DateParts returns the raw seconds/microseconds payload of a date node.
func (v *Value) DateParts() (sec, usec int64, ok bool) {
	if v == nil || v.typ != TypeDate {
		return 0, 0, false
	}
	return v.sec, v.usec, true
}

// AsUID returns the archive reference payload.
func (v *Value) AsUID() (uint64, bool) {
	if v == nil || v.typ != TypeUID {
		return 0, false
	}
	return v.u, true
}

// Len returns the child count of an array or dictionary, zero otherwise.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	switch v.typ {
	case TypeArray:
		return len(v.arr)
	case TypeDict:
		return len(v.keys)
	default:
		return 0
	}
}

// Append adds a child to the end of an array. Appending to a non-array is
// a no-op. A nil child is stored as TypeNone.
func (v *Value) Append(child *Value) {
	if v == nil || v.typ != TypeArray {
		return
	}
	if child == nil {
		child = New()
	}
	child.parent = v
	v.arr = append(v.arr, child)
}

// At returns the array child at index i, or nil when out of range or the
// node is not an array.
func (v *Value) At(i int) *Value {
	if v == nil || v.typ != TypeArray || i < 0 || i >= len(v.arr) {
		return nil
	}
	return v.arr[i]
}

// Set stores a child under the given dictionary key, replacing any
// previous entry. Insertion order of new keys is retained for iteration.
// Setting on a non-dictionary is a no-op.
func (v *Value) Set(key string, child *Value) {
	if v == nil || v.typ != TypeDict {
		return
	}
	if child == nil {
		child = New()
	}
	child.parent = v
	if old, exists := v.dict[key]; exists {
		old.parent = nil
		v.dict[key] = child
		return
	}
	v.keys = append(v.keys, key)
	v.dict[key] = child
}

// Get returns the dictionary child for key, or nil when the key is absent
// or the node is not a dictionary.
func (v *Value) Get(key string) *Value {
	if v == nil || v.typ != TypeDict {
		return nil
	}
	return v.dict[key]
}

// Has reports whether the dictionary contains key.
func (v *Value) Has(key string) bool {
	if v == nil || v.typ != TypeDict {
		return false
	}
	_, ok := v.dict[key]
	return ok
}

// Delete removes a dictionary entry. Missing keys are ignored.
func (v *Value) Delete(key string) {
	if v == nil || v.typ != TypeDict {
		return
	}
	child, ok := v.dict[key]
	if !ok {
		return
	}
	child.parent = nil
	delete(v.dict, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys returns a copy of the dictionary keys in insertion order.
func (v *Value) Keys() []string {
	if v == nil || v.typ != TypeDict {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// GetString is a convenience accessor for a string child of a dictionary.
func (v *Value) GetString(key string) (string, bool) {
	return v.Get(key).AsString()
}

// GetUint is a convenience accessor for an unsigned integer child of a
// dictionary.
func (v *Value) GetUint(key string) (uint64, bool) {
	return v.Get(key).AsUint()
}

// Copy returns a deep copy of the tree rooted at v. The copy has no
// parent.
func (v *Value) Copy() *Value {
	if v == nil {
		return nil
	}
	out := &Value{
		typ:  v.typ,
		b:    v.b,
		u:    v.u,
		f:    v.f,
		s:    v.s,
		sec:  v.sec,
		usec: v.usec,
		data: bytes.Clone(v.data),
	}
	switch v.typ {
	case TypeArray:
		for _, c := range v.arr {
			out.Append(c.Copy())
		}
	case TypeDict:
		out.dict = make(map[string]*Value, len(v.dict))
		for _, k := range v.keys {
			out.Set(k, v.dict[k].Copy())
		}
	}
	return out
}

// Equal reports deep structural equality. Dictionary iteration order is
// not significant; nil compares equal to a TypeNone node.
func Equal(a, b *Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	switch a.Type() {
	case TypeNone:
		return true
	case TypeBoolean:
		return a.b == b.b
	case TypeUint, TypeUID:
		return a.u == b.u
	case TypeReal:
		return a.f == b.f
	case TypeString, TypeKey:
		return a.s == b.s
	case TypeDate:
		return a.sec == b.sec && a.usec == b.usec
	case TypeData:
		return bytes.Equal(a.data, b.data)
	case TypeArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case TypeDict:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for k, av := range a.dict {
			bv, ok := b.dict[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
