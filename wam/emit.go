package wam

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

// EmitBytes serializes a fully linked instruction stream into the
// machine's code buffer format (spec.md §4.5). Addresses inside
// call/execute/try*/switch_on_term instructions are instruction
// indices into code, not byte offsets; EmitBytes does not change that
// convention — it only flattens each Instr to its fixed-width (or, for
// switch_on_const/struc, table-sized) wire form back to back.
func EmitBytes(code []Instr) []byte {
	var buf []byte
	for _, ins := range code {
		buf = ins.Encode(buf)
	}
	return buf
}

// DisassembleBytes is the inverse of EmitBytes: it decodes buf back
// into an instruction stream. Per spec.md §4.5, `EmitBytes ∘
// DisassembleBytes` (and its converse) must be the identity on any
// well-formed program; this is exercised directly in emit_test.go.
func DisassembleBytes(buf []byte) ([]Instr, error) {
	var code []Instr
	off := 0
	for len(buf) > 0 {
		ins, n, err := DecodeInstr(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "disassemble at offset %d", off)
		}
		code = append(code, ins)
		buf = buf[n:]
		off += n
	}
	return code, nil
}

// Disassemble renders code as human-readable text, one instruction per
// line prefixed with its instruction-index address, in the style of a
// bytecode listing a REPL's `:code` command might print.
func Disassemble(code []Instr, in *Interner) string {
	var b bytes.Buffer
	for addr, ins := range code {
		fmt.Fprintf(&b, "%4d  %s\n", addr, disassembleOne(ins, in))
	}
	return b.String()
}

func disassembleOne(ins Instr, in *Interner) string {
	operandName := func(id uint32, arity uint8) string {
		if in == nil {
			return fmt.Sprintf("%d/%d", id, arity)
		}
		return in.FunctorName(id)
	}
	switch ins.Op {
	case OpPutStruc, OpGetStruc:
		return fmt.Sprintf("%s %s, %s%d", ins.Op, operandName(ins.Name, ins.Arity), ins.Mode, ins.Reg)
	case OpSetVar, OpSetVal, OpUnifyVar, OpUnifyVal, OpPutList, OpGetList, OpSetLocalVal, OpUnifyLocalVal:
		return fmt.Sprintf("%s %s%d", ins.Op, ins.Mode, ins.Reg)
	case OpPutVar, OpPutVal, OpGetVar, OpGetVal, OpPutUnsafeVal:
		return fmt.Sprintf("%s %s%d, A%d", ins.Op, ins.Mode, ins.Reg, ins.Reg2)
	case OpCall, OpCallInternal:
		return fmt.Sprintf("%s %d (arity %d), k=%d", ins.Op, ins.Target, ins.Arity, ins.K)
	case OpExecute:
		return fmt.Sprintf("%s %d (arity %d)", ins.Op, ins.Target, ins.Arity)
	case OpAllocateN:
		return fmt.Sprintf("%s %d", ins.Op, ins.N)
	case OpTryMeElse, OpRetryMeElse, OpTry, OpRetry, OpTrust, OpContinue:
		return fmt.Sprintf("%s %d", ins.Op, ins.Label)
	case OpPutConst, OpGetConst:
		return fmt.Sprintf("%s %s, %s%d", ins.Op, operandName(ins.Name, 0), ins.Mode, ins.Reg)
	case OpSetConst, OpUnifyConst:
		return fmt.Sprintf("%s %s", ins.Op, operandName(ins.Name, 0))
	case OpSetVoid, OpUnifyVoid:
		return fmt.Sprintf("%s %d", ins.Op, ins.N)
	case OpSwitchOnTerm:
		return fmt.Sprintf("%s Lv=%d,Lc=%d,Ll=%d,Ls=%d", ins.Op, ins.Labels[0], ins.Labels[1], ins.Labels[2], ins.Labels[3])
	case OpSwitchOnConst, OpSwitchOnStruc:
		return fmt.Sprintf("%s (%d entries, default %d)", ins.Op, len(ins.Table), ins.DefaultLabel)
	case OpGetLevel, OpCut:
		return fmt.Sprintf("%s Y%d", ins.Op, ins.LevelReg)
	default:
		return ins.Op.String()
	}
}
