package msl

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is any sandbox value: nil, bool, int64, float64, string, *List,
// *Dict, *Func, *builtin, *boundMethod, or *rangeVal.
type Value any

// List is the ordered-sequence container.
type List struct {
	Items []Value
}

// NewList wraps items in a List.
func NewList(items ...Value) *List {
	return &List{Items: items}
}

// Dict is the key/value mapping container. Keys keep insertion order so
// iteration and stringification stay deterministic.
type Dict struct {
	keys  []Value
	items map[Value]Value
}

// NewDict creates an empty Dict.
func NewDict() *Dict {
	return &Dict{items: make(map[Value]Value)}
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key Value) (Value, bool) {
	v, ok := d.items[key]
	return v, ok
}

// Set stores key → value, preserving first-insertion order.
func (d *Dict) Set(key, value Value) {
	if _, ok := d.items[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.items[key] = value
}

// Delete removes a key if present.
func (d *Dict) Delete(key Value) {
	if _, ok := d.items[key]; !ok {
		return
	}
	delete(d.items, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Func is a user-defined function closing over its defining scope.
type Func struct {
	name   string
	params []string
	body   []stmt
	env    *env
}

// rangeVal is a lazy integer range.
type rangeVal struct {
	start, stop, step int64
}

func (r *rangeVal) length() int64 {
	if r.step > 0 {
		if r.stop <= r.start {
			return 0
		}
		return (r.stop - r.start + r.step - 1) / r.step
	}
	if r.stop >= r.start {
		return 0
	}
	return (r.start - r.stop - r.step - 1) / (-r.step)
}

// Truthy implements the usual scripting truthiness rules.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *List:
		return len(x.Items) > 0
	case *Dict:
		return x.Len() > 0
	case *rangeVal:
		return x.length() > 0
	default:
		return true
	}
}

// Str renders a value the way str() and FINAL stringification do: strings
// pass through bare, containers use repr for their elements.
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

// Repr renders a value for display inside containers.
func Repr(v Value) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', 1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "\\'") + "'"
	case *List:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			parts[i] = Repr(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Dict:
		parts := make([]string, 0, x.Len())
		for _, k := range x.keys {
			parts = append(parts, Repr(k)+": "+Repr(x.items[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *rangeVal:
		return fmt.Sprintf("range(%d, %d)", x.start, x.stop)
	case *Func:
		return fmt.Sprintf("<function %s>", x.name)
	case *builtin:
		return fmt.Sprintf("<builtin %s>", x.name)
	case *boundMethod:
		return fmt.Sprintf("<method %s>", x.name)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// typeName names a value's type for error messages.
func typeName(v Value) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	case *rangeVal:
		return "range"
	case *Func, *builtin, *boundMethod:
		return "function"
	default:
		return "object"
	}
}

// equal compares values structurally. Numeric values compare across int
// and float.
func equal(a, b Value) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			_, aBool := a.(bool)
			_, bBool := b.(bool)
			if aBool != bBool {
				return false
			}
			return na == nb
		}
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			yv, ok := y.Get(k)
			if !ok || !equal(x.items[k], yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// toFloat converts numeric values (including bool) for arithmetic and
// comparison.
func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// DeepCopy copies containers recursively; scalars are returned as-is.
func DeepCopy(v Value) Value {
	switch x := v.(type) {
	case *List:
		items := make([]Value, len(x.Items))
		for i, it := range x.Items {
			items[i] = DeepCopy(it)
		}
		return &List{Items: items}
	case *Dict:
		out := NewDict()
		for _, k := range x.keys {
			out.Set(k, DeepCopy(x.items[k]))
		}
		return out
	default:
		return v
	}
}

// FromJSONMap converts a decoded JSON object into a Dict for the sandbox.
func FromJSONMap(m map[string]any) *Dict {
	d := NewDict()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, fromJSON(m[k]))
	}
	return d
}

func fromJSON(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return int64(x)
		}
		return x
	case string:
		return x
	case []any:
		items := make([]Value, len(x))
		for i, it := range x {
			items[i] = fromJSON(it)
		}
		return &List{Items: items}
	case map[string]any:
		return FromJSONMap(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ToJSONMap converts a Dict back into a JSON-encodable map. Non-string keys
// are stringified; unrepresentable values fall back to their string form.
func ToJSONMap(d *Dict) map[string]any {
	out := make(map[string]any, d.Len())
	for _, k := range d.keys {
		out[Str(k)] = toJSON(d.items[k])
	}
	return out
}

func toJSON(v Value) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case *List:
		items := make([]any, len(x.Items))
		for i, it := range x.Items {
			items[i] = toJSON(it)
		}
		return items
	case *Dict:
		return ToJSONMap(x)
	default:
		return Str(v)
	}
}
