package msl

import (
	"errors"
	"fmt"
)

// ErrNoFinal is returned when a program runs to completion without calling
// FINAL.
var ErrNoFinal = errors.New("program terminated without FINAL")

// SyntaxError reports source that falls outside the allowed grammar.
type SyntaxError struct {
	Msg  string
	Line int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Msg)
}

// ViolationError reports a reference to a name, attribute, or capability
// outside the sandbox whitelist.
type ViolationError struct {
	Name string
	Line int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("sandbox violation at line %d: forbidden name %q", e.Line, e.Name)
}

// RuntimeError reports a failure raised by the program itself, such as an
// out-of-range index or division by zero.
type RuntimeError struct {
	Msg  string
	Line int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at line %d: %s", e.Line, e.Msg)
}

// Control-flow signals. These travel as errors through the evaluator and
// never escape Run.

type finalSignal struct{ result string }

func (finalSignal) Error() string { return "FINAL called" }

type returnSignal struct{ value Value }

func (returnSignal) Error() string { return "return outside function" }

var (
	errBreak    = errors.New("break outside loop")
	errContinue = errors.New("continue outside loop")
	errTimeout  = errors.New("deadline exceeded")
)

// queryAbort carries an llm_query failure out of the program; the wrapped
// error keeps its identity for the caller to classify.
type queryAbort struct{ err error }

func (q queryAbort) Error() string { return q.err.Error() }
func (q queryAbort) Unwrap() error { return q.err }
