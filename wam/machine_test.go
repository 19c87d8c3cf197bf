package wam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineResetClearsMutableStateButKeepsCode(t *testing.T) {
	in := NewInterner()
	code := []Instr{{Op: OpProceed}}
	calls := map[PredIndicator]int{{Name: "p", Arity: 0}: 0}
	m := NewMachine(in, code, calls)

	m.pushCell(Cell(0))
	m.Trail = append(m.Trail, 3)
	m.frames = append(m.frames, frame{})
	m.chpts = append(m.chpts, choicePoint{})
	m.P = 5
	m.E = 0
	m.B = 0

	m.Reset()

	require.Equal(t, 0, len(m.Heap))
	require.Equal(t, 0, len(m.Trail))
	require.Equal(t, 0, len(m.frames))
	require.Equal(t, 0, len(m.chpts))
	require.Equal(t, 0, m.P)
	require.Equal(t, -1, m.E)
	require.Equal(t, -1, m.B)
	require.Equal(t, -1, m.CP)
	require.Equal(t, -1, m.B0)
	require.False(t, m.WriteMode)

	// code/calls/interner survive a reset.
	require.Same(t, in, m.Interner)
	require.Equal(t, code, m.Code)
	require.Equal(t, calls, m.Calls)
}

func TestMachineFrameTopPrefersHigherOfEAndSavedChoicePointEnv(t *testing.T) {
	m := NewMachine(NewInterner(), nil, nil)
	m.E = 2
	m.B = -1
	require.Equal(t, 3, m.frameTop())

	// A live choice point only protects the environment index it saved
	// (chpts[B].e), not its own position in the separate chpts slice.
	m.chpts = append(m.chpts, choicePoint{e: 1}, choicePoint{e: 9})
	m.B = 0
	require.Equal(t, 3, m.frameTop(), "choice point 0 saved e=1, below current E=2")

	m.B = 1
	require.Equal(t, 10, m.frameTop(), "choice point 1 saved e=9, above current E=2")
}

func TestMachineGetSetRegXMode(t *testing.T) {
	m := NewMachine(NewInterner(), nil, nil)
	m.setReg(RegMode, 3, Cell(0x1234))
	require.Equal(t, Cell(0x1234), m.getReg(RegMode, 3))
}

func TestMachineGetSetRegStackMode(t *testing.T) {
	m := NewMachine(NewInterner(), nil, nil)
	m.frames = append(m.frames, frame{slots: make([]Cell, 2)})
	m.E = 0

	m.setReg(StackMode, 1, Cell(0xabcd))
	require.Equal(t, Cell(0xabcd), m.getReg(StackMode, 1))
	require.Equal(t, Cell(0xabcd), m.frames[0].slots[0])
}
