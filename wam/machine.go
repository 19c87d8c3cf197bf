package wam

import (
	"github.com/hashicorp/go-hclog"
)

// choicePoint is a saved restart point for backtracking (spec.md
// §4.4's try_me_else/retry_me_else/trust_me machinery).
type choicePoint struct {
	args   []Cell // saved A1..An at the time of the call
	nextClause int    // BP: where retry should resume
	prevB  int    // B_prev: choice point below this one (-1 = bottom)
	e      int    // saved E
	cp     int    // saved CP
	trTop  int    // saved TR, for trail unwinding
	hTop   int    // saved H
}

// frame is one permanent-variable environment (spec.md §4.4's
// "allocate"/"deallocate").
type frame struct {
	prevE int // previous E (-1 = none)
	cp    int // saved CP
	slots []Cell
}

// Machine is one WAM instance: the tagged heap, the frame/choice-point
// stacks, the trail, and the register file, plus the compiled code and
// call table it is executing against. Per spec.md §5, the code/call
// table/interner are shared and read-mostly once compiled; everything
// else here is private per-instance mutable state.
//
// spec.md §3 describes a single contiguous address space; this
// implementation instead uses separate typed Go slices per region
// (Heap, frames, Trail, PDL) — an idiomatic-Go deviation documented in
// SPEC_FULL.md §3 that does not affect any of the testable invariants
// in §8 (none of which require one literally shared address space).
type Machine struct {
	Interner *Interner
	Code     []Instr
	Calls    map[PredIndicator]int

	Heap  []Cell
	Trail []int
	X     [256]Cell

	frames []frame
	chpts  []choicePoint
	pdl    []Cell // scratch push-down list reused by unify

	H  int // heap top
	HB int // heap top at last choice point
	S  int // structure-match cursor
	P  int // program counter (instruction index)
	CP int // continuation pointer
	E  int // current environment index (-1 = none)
	B  int // current choice point index (-1 = none)
	B0 int // cut barrier: choice point in effect at clause entry

	WriteMode bool // get_struc/get_list left us building (true) or reading (false)

	Log hclog.Logger
}

// NewMachine builds an empty machine sharing code/calls/interner
// produced by a Compiler. Log defaults to a no-op logger per
// SPEC_FULL.md's ambient-logging section; callers that want
// diagnostics call SetLogger.
func NewMachine(in *Interner, code []Instr, calls map[PredIndicator]int) *Machine {
	m := &Machine{
		Interner: in,
		Code:     code,
		Calls:    calls,
		Log:      hclog.NewNullLogger(),
	}
	m.Reset()
	return m
}

// SetLogger installs a structured logger for diagnostic tracing of
// instruction dispatch and backtracking.
func (m *Machine) SetLogger(l hclog.Logger) { m.Log = l }

// Reset clears per-query mutable state (heap, stacks, trail, registers)
// while preserving the compiled code area and call table, per spec.md
// §5's "reset() clears ... but preserves the compiled code area and the
// call/symbol tables".
func (m *Machine) Reset() {
	m.Heap = m.Heap[:0]
	m.Trail = m.Trail[:0]
	m.frames = m.frames[:0]
	m.chpts = m.chpts[:0]
	m.H = 0
	m.HB = 0
	m.S = 0
	m.P = 0
	m.CP = -1
	m.E = -1
	m.B = -1
	m.B0 = -1
	m.WriteMode = false
}

// pushCell appends a cell to the heap and returns its address.
func (m *Machine) pushCell(c Cell) int {
	addr := len(m.Heap)
	m.Heap = append(m.Heap, c)
	m.H = len(m.Heap)
	return addr
}

// frameTop reports the lowest frame index a new environment may occupy
// without clobbering one a live choice point can still read. m.B indexes
// chpts, not frames, so the protection floor is the environment index
// that was current when that choice point was pushed — chpts[m.B].e —
// not m.B itself; backtrack restores exactly that index into E.
func (m *Machine) frameTop() int {
	top := m.E + 1
	if m.B >= 0 {
		if protected := m.chpts[m.B].e + 1; protected > top {
			top = protected
		}
	}
	return top
}

// getReg reads an operand addressed by (mode, idx): an X register or a
// permanent environment slot of the current frame.
func (m *Machine) getReg(mode Mode, idx uint8) Cell {
	if mode == StackMode {
		return m.frames[m.E].slots[idx-1]
	}
	return m.X[idx]
}

func (m *Machine) setReg(mode Mode, idx uint8, v Cell) {
	if mode == StackMode {
		m.frames[m.E].slots[idx-1] = v
		return
	}
	m.X[idx] = v
}
