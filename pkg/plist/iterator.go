package plist

// Iterator walks the children of an array or dictionary in order.
//
// Iterators are forward-only and not restartable; create a fresh iterator
// to re-scan a container. Mutating the container while iterating is
// undefined.
type Iterator struct {
	v    *Value
	next int
}

// Iterate returns an iterator over the node's children. For non-container
// nodes the iterator is immediately exhausted.
func (v *Value) Iterate() *Iterator {
	return &Iterator{v: v}
}

// Next returns the next child. For dictionaries key is a TypeKey node
// whose parent is the dictionary; for arrays key is nil. ok is false once
// the iterator is exhausted.
func (it *Iterator) Next() (key, item *Value, ok bool) {
	if it.v == nil {
		return nil, nil, false
	}
	switch it.v.typ {
	case TypeArray:
		if it.next >= len(it.v.arr) {
			return nil, nil, false
		}
		item = it.v.arr[it.next]
		it.next++
		return nil, item, true
	case TypeDict:
		if it.next >= len(it.v.keys) {
			return nil, nil, false
		}
		k := it.v.keys[it.next]
		it.next++
		key = &Value{typ: TypeKey, s: k, parent: it.v}
		return key, it.v.dict[k], true
	default:
		return nil, nil, false
	}
}
