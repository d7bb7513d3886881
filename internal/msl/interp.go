package msl

import (
	"context"
	"errors"
	"math"
	"strings"
)

// QueryFunc handles llm_query calls made by the program. The returned error
// aborts the run and is surfaced unchanged to the caller.
type QueryFunc func(prompt string) (string, error)

// Options configures one program run.
type Options struct {
	// Context is bound to the read-only `context` variable.
	Context Value
	// Memory is bound to the mutable `memory` dict. Mutations persist in
	// place; pass a DeepCopy to isolate the caller's view.
	Memory *Dict
	// Query backs the llm_query builtin. A nil Query makes any llm_query
	// call a runtime error.
	Query QueryFunc
}

// maxCallDepth bounds user-defined function nesting.
const maxCallDepth = 100

// checkEvery is how many evaluation steps pass between context checks.
const checkEvery = 1000

// interp executes a parsed program.
type interp struct {
	ctx       context.Context
	query     QueryFunc
	steps     int
	callDepth int
}

// Run parses and executes src. It returns the FINAL result, or an error:
// SyntaxError, ViolationError, RuntimeError, ErrNoFinal, the context's
// error on deadline, or whatever error the QueryFunc produced.
func Run(ctx context.Context, src string, opts Options) (string, error) {
	stmts, err := parse(src)
	if err != nil {
		return "", err
	}

	in := &interp{ctx: ctx, query: opts.Query}
	globals := newEnv(nil)
	installBuiltins(globals)
	globals.set("FINAL", &builtin{name: "FINAL", fn: builtinFinal})
	globals.set("llm_query", &builtin{name: "llm_query", fn: builtinLLMQuery})
	globals.set("context", opts.Context)
	mem := opts.Memory
	if mem == nil {
		mem = NewDict()
	}
	globals.set("memory", mem)

	err = in.execStmts(stmts, globals)
	switch {
	case err == nil:
		return "", ErrNoFinal
	case errors.Is(err, errTimeout):
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", context.DeadlineExceeded
	}
	var fin finalSignal
	if errors.As(err, &fin) {
		return fin.result, nil
	}
	var abort queryAbort
	if errors.As(err, &abort) {
		return "", abort.err
	}
	var ret returnSignal
	if errors.As(err, &ret) {
		return "", &RuntimeError{Msg: "return outside function"}
	}
	if errors.Is(err, errBreak) || errors.Is(err, errContinue) {
		return "", &RuntimeError{Msg: err.Error()}
	}
	return "", err
}

func builtinFinal(_ *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("FINAL", args, 1, line); err != nil {
		return nil, err
	}
	return nil, finalSignal{result: Str(args[0])}
}

func builtinLLMQuery(in *interp, args []Value, line int) (Value, error) {
	if err := wantArgs("llm_query", args, 1, line); err != nil {
		return nil, err
	}
	if in.query == nil {
		return nil, rtErr(line, "llm_query is not available")
	}
	if in.ctx.Err() != nil {
		return nil, errTimeout
	}
	out, err := in.query(Str(args[0]))
	if err != nil {
		return nil, queryAbort{err: err}
	}
	return out, nil
}

// tick counts evaluation steps and checks the deadline periodically.
func (in *interp) tick() error {
	in.steps++
	if in.steps%checkEvery == 0 && in.ctx.Err() != nil {
		return errTimeout
	}
	return nil
}

func (in *interp) execStmts(stmts []stmt, e *env) error {
	for _, s := range stmts {
		if err := in.execStmt(s, e); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) execStmt(s stmt, e *env) error {
	if err := in.tick(); err != nil {
		return err
	}
	switch st := s.(type) {
	case *assignStmt:
		val, err := in.eval(st.value, e)
		if err != nil {
			return err
		}
		if len(st.targets) == 1 {
			return in.assignTo(st.targets[0], val, e)
		}
		items, err := unpack(val, len(st.targets), st.line)
		if err != nil {
			return err
		}
		for i, t := range st.targets {
			if err := in.assignTo(t, items[i], e); err != nil {
				return err
			}
		}
		return nil

	case *augAssignStmt:
		cur, err := in.eval(st.target, e)
		if err != nil {
			return err
		}
		rhs, err := in.eval(st.value, e)
		if err != nil {
			return err
		}
		val, err := binaryOp(st.op, cur, rhs, st.line)
		if err != nil {
			return err
		}
		if n, ok := st.target.(*nameExpr); ok {
			if !e.setExisting(n.name, val) {
				e.set(n.name, val)
			}
			return nil
		}
		return in.assignTo(st.target, val, e)

	case *exprStmt:
		_, err := in.eval(st.x, e)
		return err

	case *ifStmt:
		cond, err := in.eval(st.cond, e)
		if err != nil {
			return err
		}
		if Truthy(cond) {
			return in.execStmts(st.body, e)
		}
		return in.execStmts(st.elseBody, e)

	case *forStmt:
		iter, err := in.eval(st.iter, e)
		if err != nil {
			return err
		}
		items, err := iterate(iter, st.line)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := in.tick(); err != nil {
				return err
			}
			if err := in.bindTarget(st.target, it, e); err != nil {
				return err
			}
			err := in.execStmts(st.body, e)
			if errors.Is(err, errBreak) {
				return nil
			}
			if errors.Is(err, errContinue) {
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil

	case *whileStmt:
		for {
			if err := in.tick(); err != nil {
				return err
			}
			cond, err := in.eval(st.cond, e)
			if err != nil {
				return err
			}
			if !Truthy(cond) {
				return nil
			}
			err = in.execStmts(st.body, e)
			if errors.Is(err, errBreak) {
				return nil
			}
			if errors.Is(err, errContinue) {
				continue
			}
			if err != nil {
				return err
			}
		}

	case *defStmt:
		e.set(st.name, &Func{name: st.name, params: st.params, body: st.body, env: e})
		return nil

	case *returnStmt:
		var val Value
		if st.value != nil {
			var err error
			val, err = in.eval(st.value, e)
			if err != nil {
				return err
			}
		}
		return returnSignal{value: val}

	case *breakStmt:
		return errBreak
	case *continueStmt:
		return errContinue
	case *passStmt:
		return nil
	case *importStmt:
		return &ViolationError{Name: st.module, Line: st.line}
	}
	return &RuntimeError{Msg: "unknown statement"}
}

// bindTarget binds a loop variable, unpacking tuples.
func (in *interp) bindTarget(target expr, val Value, e *env) error {
	switch t := target.(type) {
	case *nameExpr:
		e.set(t.name, val)
		return nil
	case *tupleLit:
		items, err := unpack(val, len(t.elems), t.line)
		if err != nil {
			return err
		}
		for i, el := range t.elems {
			if err := in.bindTarget(el, items[i], e); err != nil {
				return err
			}
		}
		return nil
	}
	return &RuntimeError{Msg: "invalid loop target", Line: target.pos()}
}

func unpack(val Value, n, line int) ([]Value, error) {
	l, ok := val.(*List)
	if !ok {
		return nil, rtErr(line, "cannot unpack %s", typeName(val))
	}
	if len(l.Items) != n {
		return nil, rtErr(line, "expected %d values to unpack, got %d", n, len(l.Items))
	}
	return l.Items, nil
}

func (in *interp) assignTo(target expr, val Value, e *env) error {
	switch t := target.(type) {
	case *nameExpr:
		e.set(t.name, val)
		return nil
	case *indexExpr:
		container, err := in.eval(t.x, e)
		if err != nil {
			return err
		}
		index, err := in.eval(t.index, e)
		if err != nil {
			return err
		}
		switch c := container.(type) {
		case *List:
			i, err := seqIndex(index, len(c.Items), t.line)
			if err != nil {
				return err
			}
			c.Items[i] = val
			return nil
		case *Dict:
			if !hashable(index) {
				return rtErr(t.line, "unhashable type: %s", typeName(index))
			}
			c.Set(index, val)
			return nil
		default:
			return rtErr(t.line, "%s does not support item assignment", typeName(container))
		}
	}
	return &RuntimeError{Msg: "invalid assignment target", Line: target.pos()}
}

func hashable(v Value) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string:
		return true
	default:
		return false
	}
}

// seqIndex normalizes a sequence index, handling negatives and bounds.
func seqIndex(index Value, length, line int) (int, error) {
	n, ok := index.(int64)
	if !ok {
		return 0, rtErr(line, "indices must be integers, not %s", typeName(index))
	}
	i := int(n)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, rtErr(line, "index out of range")
	}
	return i, nil
}

func (in *interp) eval(x expr, e *env) (Value, error) {
	if err := in.tick(); err != nil {
		return nil, err
	}
	switch ex := x.(type) {
	case *nameExpr:
		if v, ok := e.lookup(ex.name); ok {
			return v, nil
		}
		return nil, &ViolationError{Name: ex.name, Line: ex.line}
	case *intLit:
		return ex.value, nil
	case *floatLit:
		return ex.value, nil
	case *strLit:
		return ex.value, nil
	case *boolLit:
		return ex.value, nil
	case *noneLit:
		return nil, nil

	case *listLit:
		items := make([]Value, len(ex.elems))
		for i, el := range ex.elems {
			v, err := in.eval(el, e)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return &List{Items: items}, nil

	case *tupleLit:
		items := make([]Value, len(ex.elems))
		for i, el := range ex.elems {
			v, err := in.eval(el, e)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return &List{Items: items}, nil

	case *dictLit:
		d := NewDict()
		for i := range ex.keys {
			k, err := in.eval(ex.keys[i], e)
			if err != nil {
				return nil, err
			}
			if !hashable(k) {
				return nil, rtErr(ex.line, "unhashable type: %s", typeName(k))
			}
			v, err := in.eval(ex.values[i], e)
			if err != nil {
				return nil, err
			}
			d.Set(k, v)
		}
		return d, nil

	case *fstringLit:
		var sb strings.Builder
		for _, part := range ex.parts {
			v, err := in.eval(part, e)
			if err != nil {
				return nil, err
			}
			sb.WriteString(Str(v))
		}
		return sb.String(), nil

	case *binaryExpr:
		l, err := in.eval(ex.l, e)
		if err != nil {
			return nil, err
		}
		r, err := in.eval(ex.r, e)
		if err != nil {
			return nil, err
		}
		return binaryOp(ex.op, l, r, ex.line)

	case *boolOpExpr:
		var last Value
		for _, v := range ex.values {
			val, err := in.eval(v, e)
			if err != nil {
				return nil, err
			}
			last = val
			if ex.op == tokenAnd && !Truthy(val) {
				return val, nil
			}
			if ex.op == tokenOr && Truthy(val) {
				return val, nil
			}
		}
		return last, nil

	case *unaryExpr:
		v, err := in.eval(ex.x, e)
		if err != nil {
			return nil, err
		}
		if ex.op == tokenNot {
			return !Truthy(v), nil
		}
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, rtErr(ex.line, "bad operand type for unary -: %s", typeName(v))

	case *compareExpr:
		left, err := in.eval(ex.left, e)
		if err != nil {
			return nil, err
		}
		for i, op := range ex.ops {
			right, err := in.eval(ex.rest[i], e)
			if err != nil {
				return nil, err
			}
			ok, err := compareOp(op, left, right, ex.line)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			left = right
		}
		return true, nil

	case *condExpr:
		cond, err := in.eval(ex.cond, e)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return in.eval(ex.then, e)
		}
		return in.eval(ex.els, e)

	case *callExpr:
		fn, err := in.eval(ex.fn, e)
		if err != nil {
			return nil, err
		}
		args := make([]Value, len(ex.args))
		for i, a := range ex.args {
			v, err := in.eval(a, e)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return in.call(fn, args, ex.line)

	case *indexExpr:
		container, err := in.eval(ex.x, e)
		if err != nil {
			return nil, err
		}
		index, err := in.eval(ex.index, e)
		if err != nil {
			return nil, err
		}
		return indexValue(container, index, ex.line)

	case *sliceExpr:
		container, err := in.eval(ex.x, e)
		if err != nil {
			return nil, err
		}
		lo, hi, err := in.sliceBounds(ex, container, e)
		if err != nil {
			return nil, err
		}
		switch c := container.(type) {
		case string:
			return c[lo:hi], nil
		case *List:
			out := make([]Value, hi-lo)
			copy(out, c.Items[lo:hi])
			return &List{Items: out}, nil
		}
		return nil, rtErr(ex.line, "%s is not sliceable", typeName(container))

	case *attrExpr:
		recv, err := in.eval(ex.x, e)
		if err != nil {
			return nil, err
		}
		return lookupMethod(recv, ex.name, ex.line)

	case *compExpr:
		iter, err := in.eval(ex.iter, e)
		if err != nil {
			return nil, err
		}
		items, err := iterate(iter, ex.line)
		if err != nil {
			return nil, err
		}
		scope := newEnv(e)
		out := make([]Value, 0, len(items))
		for _, it := range items {
			if err := in.tick(); err != nil {
				return nil, err
			}
			if err := in.bindTarget(ex.target, it, scope); err != nil {
				return nil, err
			}
			if ex.cond != nil {
				keep, err := in.eval(ex.cond, scope)
				if err != nil {
					return nil, err
				}
				if !Truthy(keep) {
					continue
				}
			}
			v, err := in.eval(ex.elt, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return &List{Items: out}, nil
	}
	return nil, &RuntimeError{Msg: "unknown expression", Line: x.pos()}
}

func (in *interp) call(fn Value, args []Value, line int) (Value, error) {
	switch f := fn.(type) {
	case *builtin:
		return f.fn(in, args, line)
	case *boundMethod:
		return f.fn(in, args, line)
	case *Func:
		if len(args) != len(f.params) {
			return nil, rtErr(line, "%s() takes %d argument(s), got %d", f.name, len(f.params), len(args))
		}
		if in.callDepth >= maxCallDepth {
			return nil, rtErr(line, "maximum call depth exceeded")
		}
		in.callDepth++
		defer func() { in.callDepth-- }()

		scope := newEnv(f.env)
		for i, p := range f.params {
			scope.set(p, args[i])
		}
		err := in.execStmts(f.body, scope)
		var ret returnSignal
		if errors.As(err, &ret) {
			return ret.value, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, rtErr(line, "%s is not callable", typeName(fn))
}

func indexValue(container, index Value, line int) (Value, error) {
	switch c := container.(type) {
	case *List:
		i, err := seqIndex(index, len(c.Items), line)
		if err != nil {
			return nil, err
		}
		return c.Items[i], nil
	case string:
		i, err := seqIndex(index, len(c), line)
		if err != nil {
			return nil, err
		}
		return c[i : i+1], nil
	case *Dict:
		if !hashable(index) {
			return nil, rtErr(line, "unhashable type: %s", typeName(index))
		}
		v, ok := c.Get(index)
		if !ok {
			return nil, rtErr(line, "key not found: %s", Repr(index))
		}
		return v, nil
	}
	return nil, rtErr(line, "%s is not subscriptable", typeName(container))
}

// sliceBounds evaluates and clamps slice endpoints the usual way: negatives
// count from the end, out-of-range values clamp.
func (in *interp) sliceBounds(ex *sliceExpr, container Value, e *env) (int, int, error) {
	var length int
	switch c := container.(type) {
	case string:
		length = len(c)
	case *List:
		length = len(c.Items)
	default:
		return 0, 0, rtErr(ex.line, "%s is not sliceable", typeName(container))
	}

	resolve := func(x expr, def int) (int, error) {
		if x == nil {
			return def, nil
		}
		v, err := in.eval(x, e)
		if err != nil {
			return 0, err
		}
		n, ok := v.(int64)
		if !ok {
			return 0, rtErr(ex.line, "slice indices must be integers, not %s", typeName(v))
		}
		i := int(n)
		if i < 0 {
			i += length
		}
		if i < 0 {
			i = 0
		}
		if i > length {
			i = length
		}
		return i, nil
	}

	lo, err := resolve(ex.lo, 0)
	if err != nil {
		return 0, 0, err
	}
	hi, err := resolve(ex.hi, length)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

func compareOp(op tokenType, l, r Value, line int) (bool, error) {
	switch op {
	case tokenEq:
		return equal(l, r), nil
	case tokenNe:
		return !equal(l, r), nil
	case tokenLt:
		return valueLess(l, r, line)
	case tokenGt:
		return valueLess(r, l, line)
	case tokenLe:
		gt, err := valueLess(r, l, line)
		return !gt, err
	case tokenGe:
		lt, err := valueLess(l, r, line)
		return !lt, err
	case tokenIn:
		return contains(r, l, line)
	case tokenNotIn:
		ok, err := contains(r, l, line)
		return !ok, err
	}
	return false, rtErr(line, "unknown comparison")
}

func contains(container, item Value, line int) (bool, error) {
	switch c := container.(type) {
	case *List:
		for _, it := range c.Items {
			if equal(it, item) {
				return true, nil
			}
		}
		return false, nil
	case *Dict:
		if !hashable(item) {
			return false, rtErr(line, "unhashable type: %s", typeName(item))
		}
		_, ok := c.Get(item)
		return ok, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, rtErr(line, "'in <str>' requires a string, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	case *rangeVal:
		n, ok := item.(int64)
		if !ok {
			return false, nil
		}
		if c.step > 0 {
			return n >= c.start && n < c.stop && (n-c.start)%c.step == 0, nil
		}
		return n <= c.start && n > c.stop && (c.start-n)%(-c.step) == 0, nil
	}
	return false, rtErr(line, "argument of type %s is not a container", typeName(container))
}

func binaryOp(op tokenType, l, r Value, line int) (Value, error) {
	switch op {
	case tokenPlus:
		if ls, ok := l.(string); ok {
			rs, ok := r.(string)
			if !ok {
				return nil, rtErr(line, "cannot concatenate str and %s", typeName(r))
			}
			return ls + rs, nil
		}
		if ll, ok := l.(*List); ok {
			rl, ok := r.(*List)
			if !ok {
				return nil, rtErr(line, "cannot concatenate list and %s", typeName(r))
			}
			out := make([]Value, 0, len(ll.Items)+len(rl.Items))
			out = append(out, ll.Items...)
			out = append(out, rl.Items...)
			return &List{Items: out}, nil
		}
		return arith(op, l, r, line)

	case tokenMinus:
		return arith(op, l, r, line)

	case tokenStar:
		if s, n, ok := strRepeat(l, r); ok {
			return repeatString(s, n), nil
		}
		if s, n, ok := strRepeat(r, l); ok {
			return repeatString(s, n), nil
		}
		if lst, n, ok := listRepeat(l, r); ok {
			return repeatList(lst, n), nil
		}
		if lst, n, ok := listRepeat(r, l); ok {
			return repeatList(lst, n), nil
		}
		return arith(op, l, r, line)

	case tokenSlash, tokenSlashSlash, tokenPercent:
		return arith(op, l, r, line)
	}
	return nil, rtErr(line, "unknown operator")
}

func strRepeat(a, b Value) (string, int64, bool) {
	s, ok1 := a.(string)
	n, ok2 := b.(int64)
	return s, n, ok1 && ok2
}

func repeatString(s string, n int64) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, int(n))
}

func listRepeat(a, b Value) (*List, int64, bool) {
	l, ok1 := a.(*List)
	n, ok2 := b.(int64)
	return l, n, ok1 && ok2
}

func repeatList(l *List, n int64) *List {
	if n <= 0 {
		return NewList()
	}
	out := make([]Value, 0, int(n)*len(l.Items))
	for i := int64(0); i < n; i++ {
		out = append(out, l.Items...)
	}
	return &List{Items: out}
}

// arith handles numeric arithmetic. Integer pairs stay integral except for
// true division, which always yields a float.
func arith(op tokenType, l, r Value, line int) (Value, error) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)

	if lInt && rInt {
		switch op {
		case tokenPlus:
			return li + ri, nil
		case tokenMinus:
			return li - ri, nil
		case tokenStar:
			return li * ri, nil
		case tokenSlash:
			if ri == 0 {
				return nil, rtErr(line, "division by zero")
			}
			return float64(li) / float64(ri), nil
		case tokenSlashSlash:
			if ri == 0 {
				return nil, rtErr(line, "division by zero")
			}
			q := li / ri
			if (li%ri != 0) && ((li < 0) != (ri < 0)) {
				q--
			}
			return q, nil
		case tokenPercent:
			if ri == 0 {
				return nil, rtErr(line, "division by zero")
			}
			m := li % ri
			if m != 0 && (m < 0) != (ri < 0) {
				m += ri
			}
			return m, nil
		}
	}

	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, rtErr(line, "unsupported operand types: %s and %s", typeName(l), typeName(r))
	}
	switch op {
	case tokenPlus:
		return lf + rf, nil
	case tokenMinus:
		return lf - rf, nil
	case tokenStar:
		return lf * rf, nil
	case tokenSlash:
		if rf == 0 {
			return nil, rtErr(line, "division by zero")
		}
		return lf / rf, nil
	case tokenSlashSlash:
		if rf == 0 {
			return nil, rtErr(line, "division by zero")
		}
		return math.Floor(lf / rf), nil
	case tokenPercent:
		if rf == 0 {
			return nil, rtErr(line, "division by zero")
		}
		m := math.Mod(lf, rf)
		if m != 0 && (m < 0) != (rf < 0) {
			m += rf
		}
		return m, nil
	}
	return nil, rtErr(line, "unknown operator")
}
