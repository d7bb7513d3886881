package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rand/rlm-engine/internal/msl"
)

// Kind classifies execution failures for API responses and events.
type Kind string

const (
	KindSandboxViolation Kind = "sandbox_violation"
	KindProgramRuntime   Kind = "program_runtime_error"
	KindProvider         Kind = "provider_error"
	KindRecursionLimit   Kind = "recursion_limit"
	KindDeadlineExceeded Kind = "deadline_exceeded"
	KindContextTooLarge  Kind = "context_too_large"
	KindNoFinal          Kind = "no_final"
)

// Error is a classified execution failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a classified error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind, defaulting to a provider error for
// anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProvider
}

// classify maps interpreter and context errors onto the failure taxonomy.
// Already-classified errors pass through.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var violation *msl.ViolationError
	if errors.As(err, &violation) {
		return &Error{Kind: KindSandboxViolation, Msg: violation.Error(), Err: err}
	}
	var syntax *msl.SyntaxError
	if errors.As(err, &syntax) {
		return &Error{Kind: KindSandboxViolation, Msg: syntax.Error(), Err: err}
	}
	var runtime *msl.RuntimeError
	if errors.As(err, &runtime) {
		return &Error{Kind: KindProgramRuntime, Msg: runtime.Error(), Err: err}
	}
	if errors.Is(err, msl.ErrNoFinal) {
		return &Error{Kind: KindNoFinal, Msg: err.Error(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindDeadlineExceeded, Msg: "execution deadline exceeded", Err: err}
	}
	return &Error{Kind: KindProvider, Msg: err.Error(), Err: err}
}
