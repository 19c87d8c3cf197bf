package wam

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel runtime/implementation errors, grounded on gvm/vm/vm.go's
// package-level `var (err... = errors.New(...))` block.
var (
	// ErrNoSolution names the "no solution" outcome (spec.md §7 item 4).
	// No code path returns it: SolutionIterator.Next reports an exhausted
	// choice-point stack as ok=false with a nil error, never as a
	// compile/link error.
	ErrNoSolution = errors.New("no solution")

	// ErrUnknownOpcode / ErrCorruptTag signal invariant violations
	// (spec.md §7 item 6): an unknown opcode or a corrupt heap tag.
	// step aborts execution with ErrUnknownOpcode, and DecodeInstr
	// rejects unknown opcodes with it; neither takes part in
	// backtracking. No code path returns ErrCorruptTag: heap tags are not
	// validated, and decode renders a cell with an unknown tag as the
	// atom "?corrupt?".
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrCorruptTag    = errors.New("corrupt heap tag")

	// ErrBackendUnavailable is returned at machine-creation time when a
	// requested execution backend cannot be constructed (spec.md §7 item
	// 5). This implementation only ships the portable interpreter
	// backend (see SPEC_FULL.md §9 open question 2), so this is reserved
	// for future backends rather than reachable today.
	ErrBackendUnavailable = errors.New("execution backend unavailable")
)

// CompileError wraps a malformed-clause or unsupported-built-in failure
// encountered while compiling one clause or query (spec.md §7 item 2).
// Fatal to the compilation unit that produced it.
type CompileError struct {
	Clause string
	Cause  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error in %s: %v", e.Clause, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }

func newCompileError(clauseDesc string, cause error) *CompileError {
	return &CompileError{Clause: clauseDesc, Cause: errors.WithStack(cause)}
}

// LinkError reports a `call f/n` that still targets an unknown predicate
// once compilation of the whole load unit has finished (spec.md §7 item
// 3).
type LinkError struct {
	Unresolved []PredIndicator
}

// PredIndicator names a predicate the way `f/n` is conventionally
// printed.
type PredIndicator struct {
	Name  string
	Arity uint8
}

func (p PredIndicator) String() string { return fmt.Sprintf("%s/%d", p.Name, p.Arity) }

func (e *LinkError) Error() string {
	msg := "unresolved predicate reference(s):"
	for _, p := range e.Unresolved {
		msg += " " + p.String()
	}
	return msg
}
