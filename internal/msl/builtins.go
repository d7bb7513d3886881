package msl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// builtin is a callable provided by the sandbox itself.
type builtin struct {
	name string
	fn   func(in *interp, args []Value, line int) (Value, error)
}

// boundMethod is a whitelisted method resolved from an attribute access,
// waiting for its call.
type boundMethod struct {
	name string
	recv Value
	fn   func(in *interp, args []Value, line int) (Value, error)
}

func rtErr(line int, format string, args ...any) error {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...), Line: line}
}

func wantArgs(name string, args []Value, n, line int) error {
	if len(args) != n {
		return rtErr(line, "%s() takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// globalBuiltins installs the whitelisted callables into a scope. FINAL and
// llm_query close over the interpreter and are added separately.
func installBuiltins(e *env) {
	for _, b := range []*builtin{
		{name: "len", fn: builtinLen},
		{name: "range", fn: builtinRange},
		{name: "enumerate", fn: builtinEnumerate},
		{name: "min", fn: builtinMin},
		{name: "max", fn: builtinMax},
		{name: "sum", fn: builtinSum},
		{name: "sorted", fn: builtinSorted},
		{name: "str", fn: builtinStr},
		{name: "int", fn: builtinInt},
		{name: "float", fn: builtinFloat},
		{name: "bool", fn: builtinBool},
		{name: "list", fn: builtinList},
		{name: "dict", fn: builtinDict},
	} {
		e.set(b.name, b)
	}
}

func builtinLen(_ *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("len", args, 1, line); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case string:
		return int64(len(x)), nil
	case *List:
		return int64(len(x.Items)), nil
	case *Dict:
		return int64(x.Len()), nil
	case *rangeVal:
		return x.length(), nil
	default:
		return nil, rtErr(line, "object of type %s has no len()", typeName(args[0]))
	}
}

func builtinRange(_ *interp, args []Value, line int) (Value, error) {
	ints := make([]int64, len(args))
	for i, a := range args {
		n, ok := a.(int64)
		if !ok {
			return nil, rtErr(line, "range() expects integers, got %s", typeName(a))
		}
		ints[i] = n
	}
	switch len(ints) {
	case 1:
		return &rangeVal{start: 0, stop: ints[0], step: 1}, nil
	case 2:
		return &rangeVal{start: ints[0], stop: ints[1], step: 1}, nil
	case 3:
		if ints[2] == 0 {
			return nil, rtErr(line, "range() step must not be zero")
		}
		return &rangeVal{start: ints[0], stop: ints[1], step: ints[2]}, nil
	default:
		return nil, rtErr(line, "range() takes 1 to 3 arguments, got %d", len(ints))
	}
}

func builtinEnumerate(_ *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("enumerate", args, 1, line); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], line)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	for i, it := range items {
		out[i] = NewList(int64(i), it)
	}
	return &List{Items: out}, nil
}

func builtinMin(_ *interp, args []Value, line int) (Value, error) {
	return extreme("min", args, line, true)
}

func builtinMax(_ *interp, args []Value, line int) (Value, error) {
	return extreme("max", args, line, false)
}

func extreme(name string, args []Value, line int, min bool) (Value, error) {
	items := args
	if len(args) == 1 {
		var err error
		items, err = iterate(args[0], line)
		if err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, rtErr(line, "%s() of empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		less, err := valueLess(it, best, line)
		if err != nil {
			return nil, err
		}
		if less == min {
			best = it
		}
	}
	return best, nil
}

func builtinSum(_ *interp, args []Value, line int) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, rtErr(line, "sum() takes 1 or 2 arguments, got %d", len(args))
	}
	items, err := iterate(args[0], line)
	if err != nil {
		return nil, err
	}
	var acc Value = int64(0)
	if len(args) == 2 {
		acc = args[1]
	}
	for _, it := range items {
		acc, err = numericAdd(acc, it, line)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func numericAdd(a, b Value, line int) (Value, error) {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		return ai + bi, nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, rtErr(line, "unsupported operand for sum: %s", typeName(b))
	}
	return af + bf, nil
}

func builtinSorted(_ *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("sorted", args, 1, line); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], line)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	copy(out, items)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		less, err := valueLess(out[i], out[j], line)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return &List{Items: out}, nil
}

func builtinStr(_ *interp, args []Value, line int) (Value, error) {
	if len(args) == 0 {
		return "", nil
	}
	if err := wantArgs("str", args, 1, line); err != nil {
		return nil, err
	}
	return Str(args[0]), nil
}

func builtinInt(_ *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("int", args, 1, line); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64); ferr == nil {
				return int64(f), nil
			}
			return nil, rtErr(line, "invalid literal for int(): %q", x)
		}
		return n, nil
	default:
		return nil, rtErr(line, "int() argument must be a string or number, not %s", typeName(args[0]))
	}
}

func builtinFloat(_ *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("float", args, 1, line); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return float64(1), nil
		}
		return float64(0), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, rtErr(line, "invalid literal for float(): %q", x)
		}
		return f, nil
	default:
		return nil, rtErr(line, "float() argument must be a string or number, not %s", typeName(args[0]))
	}
}

func builtinBool(_ *interp, args []Value, line int) (Value, error) {
	if len(args) == 0 {
		return false, nil
	}
	if err := wantArgs("bool", args, 1, line); err != nil {
		return nil, err
	}
	return Truthy(args[0]), nil
}

func builtinList(_ *interp, args []Value, line int) (Value, error) {
	if len(args) == 0 {
		return NewList(), nil
	}
	if err := wantArgs("list", args, 1, line); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], line)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	copy(out, items)
	return &List{Items: out}, nil
}

func builtinDict(_ *interp, args []Value, line int) (Value, error) {
	if len(args) == 0 {
		return NewDict(), nil
	}
	if err := wantArgs("dict", args, 1, line); err != nil {
		return nil, err
	}
	src, ok := args[0].(*Dict)
	if !ok {
		return nil, rtErr(line, "dict() argument must be a dict, not %s", typeName(args[0]))
	}
	out := NewDict()
	for _, k := range src.Keys() {
		v, _ := src.Get(k)
		out.Set(k, v)
	}
	return out, nil
}

// iterate materializes an iterable into a slice of values.
func iterate(v Value, line int) ([]Value, error) {
	switch x := v.(type) {
	case *List:
		return x.Items, nil
	case *Dict:
		return x.Keys(), nil
	case *rangeVal:
		n := x.length()
		out := make([]Value, 0, n)
		for i, cur := int64(0), x.start; i < n; i, cur = i+1, cur+x.step {
			out = append(out, cur)
		}
		return out, nil
	case string:
		out := make([]Value, 0, len(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out, nil
	default:
		return nil, rtErr(line, "%s object is not iterable", typeName(v))
	}
}

// valueLess orders values for sorting, min, and max.
func valueLess(a, b Value, line int) (bool, error) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af < bf, nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as < bs, nil
		}
	}
	if al, ok := a.(*List); ok {
		if bl, ok := b.(*List); ok {
			for i := 0; i < len(al.Items) && i < len(bl.Items); i++ {
				if less, err := valueLess(al.Items[i], bl.Items[i], line); err != nil {
					return false, err
				} else if less {
					return true, nil
				}
				if less, err := valueLess(bl.Items[i], al.Items[i], line); err != nil {
					return false, err
				} else if less {
					return false, nil
				}
			}
			return len(al.Items) < len(bl.Items), nil
		}
	}
	return false, rtErr(line, "cannot compare %s and %s", typeName(a), typeName(b))
}

// lookupMethod resolves a whitelisted method on a value. An unknown
// attribute is a sandbox violation rather than a runtime error.
func lookupMethod(recv Value, name string, line int) (*boundMethod, error) {
	var fn func(in *interp, args []Value, line int) (Value, error)
	switch r := recv.(type) {
	case string:
		fn = stringMethod(r, name)
	case *List:
		fn = listMethod(r, name)
	case *Dict:
		fn = dictMethod(r, name)
	}
	if fn == nil {
		return nil, &ViolationError{Name: name, Line: line}
	}
	return &boundMethod{name: name, recv: recv, fn: fn}, nil
}

func stringMethod(s, name string) func(*interp, []Value, int) (Value, error) {
	switch name {
	case "split":
		return func(_ *interp, args []Value, line int) (Value, error) {
			var parts []string
			switch len(args) {
			case 0:
				parts = strings.Fields(s)
			case 1:
				sep, ok := args[0].(string)
				if !ok || sep == "" {
					return nil, rtErr(line, "split() separator must be a non-empty string")
				}
				parts = strings.Split(s, sep)
			default:
				return nil, rtErr(line, "split() takes at most 1 argument, got %d", len(args))
			}
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return &List{Items: out}, nil
		}
	case "join":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("join", args, 1, line); err != nil {
				return nil, err
			}
			items, err := iterate(args[0], line)
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(items))
			for i, it := range items {
				str, ok := it.(string)
				if !ok {
					return nil, rtErr(line, "join() expects strings, got %s", typeName(it))
				}
				parts[i] = str
			}
			return strings.Join(parts, s), nil
		}
	case "strip":
		return func(_ *interp, args []Value, line int) (Value, error) {
			switch len(args) {
			case 0:
				return strings.TrimSpace(s), nil
			case 1:
				cutset, ok := args[0].(string)
				if !ok {
					return nil, rtErr(line, "strip() argument must be a string")
				}
				return strings.Trim(s, cutset), nil
			default:
				return nil, rtErr(line, "strip() takes at most 1 argument, got %d", len(args))
			}
		}
	case "upper":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("upper", args, 0, line); err != nil {
				return nil, err
			}
			return strings.ToUpper(s), nil
		}
	case "lower":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("lower", args, 0, line); err != nil {
				return nil, err
			}
			return strings.ToLower(s), nil
		}
	case "find":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("find", args, 1, line); err != nil {
				return nil, err
			}
			sub, ok := args[0].(string)
			if !ok {
				return nil, rtErr(line, "find() argument must be a string")
			}
			return int64(strings.Index(s, sub)), nil
		}
	case "replace":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("replace", args, 2, line); err != nil {
				return nil, err
			}
			old, ok1 := args[0].(string)
			new_, ok2 := args[1].(string)
			if !ok1 || !ok2 {
				return nil, rtErr(line, "replace() arguments must be strings")
			}
			return strings.ReplaceAll(s, old, new_), nil
		}
	case "startswith":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("startswith", args, 1, line); err != nil {
				return nil, err
			}
			prefix, ok := args[0].(string)
			if !ok {
				return nil, rtErr(line, "startswith() argument must be a string")
			}
			return strings.HasPrefix(s, prefix), nil
		}
	case "endswith":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("endswith", args, 1, line); err != nil {
				return nil, err
			}
			suffix, ok := args[0].(string)
			if !ok {
				return nil, rtErr(line, "endswith() argument must be a string")
			}
			return strings.HasSuffix(s, suffix), nil
		}
	}
	return nil
}

func listMethod(l *List, name string) func(*interp, []Value, int) (Value, error) {
	switch name {
	case "append":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("append", args, 1, line); err != nil {
				return nil, err
			}
			l.Items = append(l.Items, args[0])
			return nil, nil
		}
	}
	return nil
}

func dictMethod(d *Dict, name string) func(*interp, []Value, int) (Value, error) {
	switch name {
	case "get":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, rtErr(line, "get() takes 1 or 2 arguments, got %d", len(args))
			}
			if v, ok := d.Get(args[0]); ok {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return nil, nil
		}
	case "keys":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("keys", args, 0, line); err != nil {
				return nil, err
			}
			return &List{Items: d.Keys()}, nil
		}
	case "values":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("values", args, 0, line); err != nil {
				return nil, err
			}
			out := make([]Value, 0, d.Len())
			for _, k := range d.Keys() {
				v, _ := d.Get(k)
				out = append(out, v)
			}
			return &List{Items: out}, nil
		}
	case "items":
		return func(_ *interp, args []Value, line int) (Value, error) {
			if err := wantArgs("items", args, 0, line); err != nil {
				return nil, err
			}
			out := make([]Value, 0, d.Len())
			for _, k := range d.Keys() {
				v, _ := d.Get(k)
				out = append(out, NewList(k, v))
			}
			return &List{Items: out}, nil
		}
	}
	return nil
}
