package msl

// env is a lexical scope. Name resolution walks the parent chain;
// assignment always binds in the innermost scope.
type env struct {
	vars   map[string]Value
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]Value), parent: parent}
}

func (e *env) lookup(name string) (Value, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *env) set(name string, v Value) {
	e.vars[name] = v
}

// setExisting rebinds name in the scope that already holds it, used by
// augmented assignment so "total += x" inside a loop body touches the
// variable it read.
func (e *env) setExisting(name string, v Value) bool {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			s.vars[name] = v
			return true
		}
	}
	return false
}
