package wam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEmitDisassembleRoundTrip exercises spec.md §4.5's invariant that
// EmitBytes and DisassembleBytes are mutual inverses, across one
// instance of every opcode this package emits.
func TestEmitDisassembleRoundTrip(t *testing.T) {
	in := NewInterner()
	fooID := in.InternFunctor("foo", 2)
	barID := in.InternFunctor("bar", 0)

	code := []Instr{
		{Op: OpPutStruc, Mode: RegMode, Reg: 1, Name: fooID, Arity: 2},
		{Op: OpSetVar, Mode: RegMode, Reg: 2},
		{Op: OpSetVal, Mode: StackMode, Reg: 1},
		{Op: OpSetConst, Name: barID},
		{Op: OpSetVoid, N: 3},
		{Op: OpSetLocalVal, Mode: StackMode, Reg: 2},
		{Op: OpGetStruc, Mode: RegMode, Reg: 1, Name: fooID, Arity: 2},
		{Op: OpUnifyVar, Mode: RegMode, Reg: 3},
		{Op: OpUnifyVal, Mode: StackMode, Reg: 1},
		{Op: OpUnifyConst, Name: barID},
		{Op: OpUnifyVoid, N: 2},
		{Op: OpUnifyLocalVal, Mode: StackMode, Reg: 2},
		{Op: OpPutVar, Mode: StackMode, Reg: 1, Reg2: 3},
		{Op: OpPutVal, Mode: RegMode, Reg: 2, Reg2: 1},
		{Op: OpPutUnsafeVal, Mode: StackMode, Reg: 1, Reg2: 2},
		{Op: OpGetVar, Mode: StackMode, Reg: 1, Reg2: 2},
		{Op: OpGetVal, Mode: RegMode, Reg: 4, Reg2: 1},
		{Op: OpCall, Target: 17, Arity: 2, K: 1},
		{Op: OpProceed},
		{Op: OpAllocateN, N: 3},
		{Op: OpDeallocate},
		{Op: OpTryMeElse, Label: 5},
		{Op: OpRetryMeElse, Label: 9},
		{Op: OpTrustMe},
		{Op: OpPutConst, Mode: RegMode, Reg: 1, Name: barID},
		{Op: OpGetConst, Mode: RegMode, Reg: 1, Name: barID},
		{Op: OpPutList, Mode: RegMode, Reg: 2},
		{Op: OpGetList, Mode: RegMode, Reg: 2},
		{Op: OpExecute, Target: 42, Arity: 3},
		{Op: OpAllocate},
		{Op: OpTry, Label: 1},
		{Op: OpRetry, Label: 2},
		{Op: OpTrust},
		{Op: OpSwitchOnTerm, Labels: [4]uint32{1, 2, 3, 4}},
		{Op: OpSwitchOnConst, Table: []SwitchEntry{{Key: 1, Label: 2}, {Key: 3, Label: 4}}, DefaultLabel: 9},
		{Op: OpSwitchOnStruc, Table: []SwitchEntry{{Key: fooID, Label: 7}}, DefaultLabel: 0},
		{Op: OpNeckCut},
		{Op: OpGetLevel, LevelReg: 5},
		{Op: OpCut, LevelReg: 5},
		{Op: OpContinue, Label: 3},
		{Op: OpNoOp},
		{Op: OpCallInternal, Target: 1, Arity: 0, K: 0},
		{Op: OpSuspend},
	}

	buf := EmitBytes(code)
	decoded, err := DisassembleBytes(buf)
	require.NoError(t, err)
	require.Equal(t, code, decoded)

	// Disassemble never errors and names interned functors/constants.
	text := Disassemble(code, in)
	require.Contains(t, text, "foo/2")
	require.Contains(t, text, "bar")
}

func TestDecodeInstrRejectsUnknownOpcode(t *testing.T) {
	_, _, err := DecodeInstr([]byte{0x55})
	require.Error(t, err)
}

func TestDecodeInstrRejectsTruncatedBuffer(t *testing.T) {
	_, _, err := DecodeInstr([]byte{byte(OpCall), 0, 0})
	require.Error(t, err)
}

func TestInstrLenMatchesEncodedLength(t *testing.T) {
	in := NewInterner()
	name := in.InternFunctor("f", 3)
	ins := Instr{Op: OpPutStruc, Mode: RegMode, Reg: 1, Name: name, Arity: 3}
	require.Len(t, ins.Encode(nil), ins.Len())
}
