package plist

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"
)

// encodeJSON serializes v as JSON. The rendering is lossy by design:
// dates become RFC3339 strings, UIDs and data lose their tags (integers
// and base64 strings respectively), so a JSON round-trip does not
// reproduce date/UID/data nodes.
func encodeJSON(v *Value) ([]byte, error) {
	return json.Marshal(toJSONValue(v))
}

func toJSONValue(v *Value) any {
	switch v.Type() {
	case TypeBoolean:
		return v.b
	case TypeUint:
		return v.u
	case TypeReal:
		return v.f
	case TypeString, TypeKey:
		return v.s
	case TypeDate:
		t, _ := v.AsDate()
		return t.UTC().Format(time.RFC3339Nano)
	case TypeData:
		return base64.StdEncoding.EncodeToString(v.data)
	case TypeUID:
		return v.u
	case TypeArray:
		out := make([]any, 0, len(v.arr))
		for _, c := range v.arr {
			out = append(out, toJSONValue(c))
		}
		return out
	case TypeDict:
		out := make(map[string]any, len(v.dict))
		for k, c := range v.dict {
			out[k] = toJSONValue(c)
		}
		return out
	default:
		return nil
	}
}

// decodeJSON parses JSON into a tree. Numbers decode as TypeUint when
// they are non-negative integers and TypeReal otherwise; null decodes as
// TypeNone.
func decodeJSON(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &FormatError{Format: FormatJSON, Msg: "invalid document", Err: err}
	}
	return fromJSONValue(raw)
}

func fromJSONValue(raw any) (*Value, error) {
	switch x := raw.(type) {
	case nil:
		return New(), nil
	case bool:
		return NewBool(x), nil
	case string:
		return NewString(x), nil
	case json.Number:
		if u, err := parseJSONUint(x); err == nil {
			return NewUint(u), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, &FormatError{Format: FormatJSON, Msg: "invalid number " + x.String(), Err: err}
		}
		return NewReal(f), nil
	case []any:
		arr := NewArray()
		for _, item := range x {
			child, err := fromJSONValue(item)
			if err != nil {
				return nil, err
			}
			arr.Append(child)
		}
		return arr, nil
	case map[string]any:
		dict := NewDict()
		for k, item := range x {
			child, err := fromJSONValue(item)
			if err != nil {
				return nil, err
			}
			dict.Set(k, child)
		}
		return dict, nil
	default:
		return nil, formatErr(FormatJSON, "unsupported value %T", raw)
	}
}

func parseJSONUint(n json.Number) (uint64, error) {
	i, err := n.Int64()
	if err != nil || i < 0 {
		if err == nil {
			err = formatErr(FormatJSON, "negative integer")
		}
		return 0, err
	}
	return uint64(i), nil
}
