package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies the concrete type carried by a Value. The set is
// closed so that type-mismatch detection between worker results is a plain
// tag comparison instead of reflection.
type ValueKind int

const (
	// KindNull marks an absent or empty value.
	KindNull ValueKind = iota
	// KindBool marks a boolean value.
	KindBool
	// KindNumber marks a numeric value (stored as float64).
	KindNumber
	// KindString marks a string value.
	KindString
	// KindList marks an ordered list of values.
	KindList
	// KindMap marks a string-keyed map of values.
	KindMap
)

// String returns the kind name for traces and error messages.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the tagged variant exchanged between workers, the aggregator and
// the conflict resolver. A Value is immutable by convention: accessors return
// copies of list/map contents so callers cannot mutate shared state.
type Value struct {
	kind ValueKind
	b    bool
	num  float64
	str  string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// NumberValue wraps a float64.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// ListValue wraps an ordered list of values (the slice is copied).
func ListValue(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// MapValue wraps a string-keyed map of values (the map is copied).
func MapValue(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// FromAny converts plain Go values (as produced by JSON decoding or config
// loading) into a Value. Unsupported types become their string representation
// so conversion is total.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return BoolValue(t)
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case float64:
		return NumberValue(t)
	case string:
		return StringValue(t)
	case []any:
		items := make([]Value, 0, len(t))
		for _, it := range t {
			items = append(items, FromAny(it))
		}
		return ListValue(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, it := range t {
			m[k] = FromAny(it)
		}
		return MapValue(m)
	case Value:
		return t
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// Kind returns the type tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; ok is false for other kinds.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the numeric payload; ok is false for other kinds.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Str returns the string payload; ok is false for other kinds.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// List returns a copy of the list payload; ok is false for other kinds.
func (v Value) List() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Map returns a copy of the map payload; ok is false for other kinds.
func (v Value) Map() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	cp := make(map[string]Value, len(v.m))
	for k, item := range v.m {
		cp[k] = item
	}
	return cp, true
}

// Equal reports deep equality. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Any converts the value back to plain Go types, the inverse of FromAny.
// Stores use it to serialize values as JSON.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindList:
		items := make([]any, 0, len(v.list))
		for _, item := range v.list {
			items = append(items, item.Any())
		}
		return items
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.Any()
		}
		return m
	default:
		return nil
	}
}

// Key returns a canonical string form used for grouping equal values
// (majority voting, agreement scoring). Map keys are sorted so the form is
// stable regardless of insertion order.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return "bool:" + strconv.FormatBool(v.b)
	case KindNumber:
		return "num:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return "str:" + v.str
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.Key())
		}
		return "list:[" + strings.Join(parts, ",") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+v.m[k].Key())
		}
		return "map:{" + strings.Join(parts, ",") + "}"
	default:
		return "unknown"
	}
}

// String renders a compact human-readable form for traces and logs.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return v.str
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+v.m[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "?"
	}
}
