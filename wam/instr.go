package wam

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Op is a WAM instruction opcode (spec.md §6's encoding table).
type Op uint8

const (
	OpPutStruc      Op = 0x01
	OpSetVar        Op = 0x02
	OpSetVal        Op = 0x03
	OpGetStruc      Op = 0x04
	OpUnifyVar      Op = 0x05
	OpUnifyVal      Op = 0x06
	OpPutVar        Op = 0x07
	OpPutVal        Op = 0x08
	OpGetVar        Op = 0x09
	OpGetVal        Op = 0x0a
	OpCall          Op = 0x0b
	OpProceed       Op = 0x0c
	OpAllocateN     Op = 0x0d
	OpDeallocate    Op = 0x0e
	OpTryMeElse     Op = 0x0f
	OpRetryMeElse   Op = 0x10
	OpTrustMe       Op = 0x11
	OpPutConst      Op = 0x12
	OpGetConst      Op = 0x13
	OpSetConst      Op = 0x14
	OpUnifyConst    Op = 0x15
	OpPutList       Op = 0x16
	OpGetList       Op = 0x17
	OpSetVoid       Op = 0x18
	OpUnifyVoid     Op = 0x19
	OpExecute       Op = 0x1a
	OpAllocate      Op = 0x1b
	OpPutUnsafeVal  Op = 0x1c
	OpSetLocalVal   Op = 0x1d
	OpUnifyLocalVal Op = 0x1e
	OpTry           Op = 0x1f
	OpRetry         Op = 0x20
	OpTrust         Op = 0x21
	OpSwitchOnTerm  Op = 0x22
	OpSwitchOnConst Op = 0x23
	OpSwitchOnStruc Op = 0x24
	OpNeckCut       Op = 0x25
	OpGetLevel      Op = 0x26
	OpCut           Op = 0x27
	OpContinue      Op = 0x28
	OpNoOp          Op = 0x29
	OpCallInternal  Op = 0x2a
	OpSuspend       Op = 0x7f
)

var opNames = map[Op]string{
	OpPutStruc:      "put_struc",
	OpSetVar:        "set_var",
	OpSetVal:        "set_val",
	OpGetStruc:      "get_struc",
	OpUnifyVar:      "unify_var",
	OpUnifyVal:      "unify_val",
	OpPutVar:        "put_var",
	OpPutVal:        "put_val",
	OpGetVar:        "get_var",
	OpGetVal:        "get_val",
	OpCall:          "call",
	OpProceed:       "proceed",
	OpAllocateN:     "allocate_n",
	OpDeallocate:    "deallocate",
	OpTryMeElse:     "try_me_else",
	OpRetryMeElse:   "retry_me_else",
	OpTrustMe:       "trust_me",
	OpPutConst:      "put_const",
	OpGetConst:      "get_const",
	OpSetConst:      "set_const",
	OpUnifyConst:    "unify_const",
	OpPutList:       "put_list",
	OpGetList:       "get_list",
	OpSetVoid:       "set_void",
	OpUnifyVoid:     "unify_void",
	OpExecute:       "execute",
	OpAllocate:      "allocate",
	OpPutUnsafeVal:  "put_unsafe_val",
	OpSetLocalVal:   "set_local_val",
	OpUnifyLocalVal: "unify_local_val",
	OpTry:           "try",
	OpRetry:         "retry",
	OpTrust:         "trust",
	OpSwitchOnTerm:  "switch_on_term",
	OpSwitchOnConst: "switch_on_const",
	OpSwitchOnStruc: "switch_on_struc",
	OpNeckCut:       "neck_cut",
	OpGetLevel:      "get_level",
	OpCut:           "cut",
	OpContinue:      "continue",
	OpNoOp:          "no_op",
	OpCallInternal:  "call_internal",
	OpSuspend:       "suspend",
}

func (op Op) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("?op_%#x?", uint8(op))
}

// Mode is an operand addressing mode, spec.md §6: "REG_ADDR = 0x01,
// STACK_ADDR = 0x02".
type Mode uint8

const (
	RegMode   Mode = 0x01
	StackMode Mode = 0x02
)

func (m Mode) String() string {
	if m == StackMode {
		return "Y"
	}
	return "X"
}

// SwitchEntry is one (constant-or-functor key, target label) row of a
// switch_on_const / switch_on_struc inline hash table.
type SwitchEntry struct {
	Key   uint32
	Label uint32
}

// Instr is one decoded WAM instruction. Only the fields relevant to Op
// are meaningful; Encode/Decode only read/write those.
type Instr struct {
	Op Op

	Mode Mode
	Reg  uint8
	Reg2 uint8

	Name  uint32 // interned constant/functor name
	Arity uint8

	N uint8 // allocate_n's N, set_void/unify_void's k

	Target uint32 // call/execute/call_internal code target
	K      uint8  // call/call_internal's environment-trim k

	Label  uint32    // try_me_else/retry_me_else/try/retry/trust/continue
	Labels [4]uint32 // switch_on_term

	DefaultLabel uint32
	Table        []SwitchEntry // switch_on_const/switch_on_struc

	LevelReg uint8 // get_level/cut's single register field
}

// Len reports the fixed wire length of ins in bytes, per spec.md §6 (for
// switch_on_const/switch_on_struc this includes the variable-length
// table).
func (ins Instr) Len() int {
	switch ins.Op {
	case OpPutStruc, OpGetStruc, OpPutConst, OpGetConst:
		return 7
	case OpSetVar, OpSetVal, OpUnifyVar, OpUnifyVal, OpPutList, OpGetList, OpSetLocalVal, OpUnifyLocalVal:
		return 3
	case OpPutVar, OpPutVal, OpGetVar, OpGetVal, OpPutUnsafeVal:
		return 4
	case OpCall, OpCallInternal:
		return 7
	case OpProceed, OpDeallocate, OpTrustMe, OpAllocate, OpNeckCut, OpNoOp, OpSuspend:
		return 1
	case OpAllocateN:
		return 2
	case OpTryMeElse, OpRetryMeElse, OpTry, OpRetry, OpTrust, OpContinue:
		return 5
	case OpSetConst, OpUnifyConst:
		return 5
	case OpSetVoid, OpUnifyVoid:
		return 2
	case OpExecute:
		return 6
	case OpSwitchOnTerm:
		return 17
	case OpSwitchOnConst, OpSwitchOnStruc:
		return 9 + 8*len(ins.Table)
	case OpGetLevel, OpCut:
		return 2
	default:
		return 1
	}
}

// Encode appends ins's wire encoding to dst and returns the extended slice.
func (ins Instr) Encode(dst []byte) []byte {
	dst = append(dst, byte(ins.Op))
	put32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		dst = append(dst, b[:]...)
	}
	switch ins.Op {
	case OpPutStruc, OpGetStruc:
		dst = append(dst, byte(ins.Mode), ins.Reg)
		put32(uint32(ins.Arity)<<24 | ins.Name)
	case OpSetVar, OpSetVal, OpUnifyVar, OpUnifyVal, OpPutList, OpGetList, OpSetLocalVal, OpUnifyLocalVal:
		dst = append(dst, byte(ins.Mode), ins.Reg)
	case OpPutVar, OpPutVal, OpGetVar, OpGetVal, OpPutUnsafeVal:
		dst = append(dst, byte(ins.Mode), ins.Reg, ins.Reg2)
	case OpCall, OpCallInternal:
		put32(ins.Target)
		dst = append(dst, ins.Arity, ins.K)
	case OpProceed, OpDeallocate, OpTrustMe, OpAllocate, OpNeckCut, OpNoOp, OpSuspend:
		// opcode only
	case OpAllocateN:
		dst = append(dst, ins.N)
	case OpTryMeElse, OpRetryMeElse, OpTry, OpRetry, OpTrust, OpContinue:
		put32(ins.Label)
	case OpPutConst, OpGetConst:
		dst = append(dst, byte(ins.Mode), ins.Reg)
		put32(ins.Name)
	case OpSetConst, OpUnifyConst:
		put32(ins.Name)
	case OpSetVoid, OpUnifyVoid:
		dst = append(dst, ins.N)
	case OpExecute:
		put32(ins.Target)
		dst = append(dst, ins.Arity)
	case OpSwitchOnTerm:
		for _, l := range ins.Labels {
			put32(l)
		}
	case OpSwitchOnConst, OpSwitchOnStruc:
		put32(uint32(len(ins.Table)))
		put32(ins.DefaultLabel)
		for _, e := range ins.Table {
			put32(e.Key)
			put32(e.Label)
		}
	case OpGetLevel, OpCut:
		dst = append(dst, ins.LevelReg)
	}
	return dst
}

// DecodeInstr decodes one instruction starting at buf[0], returning it
// and the number of bytes consumed.
func DecodeInstr(buf []byte) (Instr, int, error) {
	if len(buf) == 0 {
		return Instr{}, 0, errors.New("decode instruction: empty buffer")
	}
	op := Op(buf[0])
	if _, ok := opNames[op]; !ok {
		return Instr{}, 0, errors.Wrapf(ErrUnknownOpcode, "opcode %#x", buf[0])
	}
	ins := Instr{Op: op}
	need := func(n int) error {
		if len(buf) < n {
			return errors.Errorf("decode %s: need %d bytes, have %d", op, n, len(buf))
		}
		return nil
	}
	get32 := func(off int) uint32 { return binary.BigEndian.Uint32(buf[off:]) }

	switch op {
	case OpPutStruc, OpGetStruc:
		if err := need(7); err != nil {
			return Instr{}, 0, err
		}
		ins.Mode, ins.Reg = Mode(buf[1]), buf[2]
		w := get32(3)
		ins.Arity, ins.Name = uint8(w>>24), w&0x00ffffff
		return ins, 7, nil
	case OpSetVar, OpSetVal, OpUnifyVar, OpUnifyVal, OpPutList, OpGetList, OpSetLocalVal, OpUnifyLocalVal:
		if err := need(3); err != nil {
			return Instr{}, 0, err
		}
		ins.Mode, ins.Reg = Mode(buf[1]), buf[2]
		return ins, 3, nil
	case OpPutVar, OpPutVal, OpGetVar, OpGetVal, OpPutUnsafeVal:
		if err := need(4); err != nil {
			return Instr{}, 0, err
		}
		ins.Mode, ins.Reg, ins.Reg2 = Mode(buf[1]), buf[2], buf[3]
		return ins, 4, nil
	case OpCall, OpCallInternal:
		if err := need(7); err != nil {
			return Instr{}, 0, err
		}
		ins.Target = get32(1)
		ins.Arity, ins.K = buf[5], buf[6]
		return ins, 7, nil
	case OpProceed, OpDeallocate, OpTrustMe, OpAllocate, OpNeckCut, OpNoOp, OpSuspend:
		return ins, 1, nil
	case OpAllocateN:
		if err := need(2); err != nil {
			return Instr{}, 0, err
		}
		ins.N = buf[1]
		return ins, 2, nil
	case OpTryMeElse, OpRetryMeElse, OpTry, OpRetry, OpTrust, OpContinue:
		if err := need(5); err != nil {
			return Instr{}, 0, err
		}
		ins.Label = get32(1)
		return ins, 5, nil
	case OpPutConst, OpGetConst:
		if err := need(7); err != nil {
			return Instr{}, 0, err
		}
		ins.Mode, ins.Reg = Mode(buf[1]), buf[2]
		ins.Name = get32(3)
		return ins, 7, nil
	case OpSetConst, OpUnifyConst:
		if err := need(5); err != nil {
			return Instr{}, 0, err
		}
		ins.Name = get32(1)
		return ins, 5, nil
	case OpSetVoid, OpUnifyVoid:
		if err := need(2); err != nil {
			return Instr{}, 0, err
		}
		ins.N = buf[1]
		return ins, 2, nil
	case OpExecute:
		if err := need(6); err != nil {
			return Instr{}, 0, err
		}
		ins.Target = get32(1)
		ins.Arity = buf[5]
		return ins, 6, nil
	case OpSwitchOnTerm:
		if err := need(17); err != nil {
			return Instr{}, 0, err
		}
		for i := 0; i < 4; i++ {
			ins.Labels[i] = get32(1 + 4*i)
		}
		return ins, 17, nil
	case OpSwitchOnConst, OpSwitchOnStruc:
		if err := need(9); err != nil {
			return Instr{}, 0, err
		}
		count := int(get32(1))
		ins.DefaultLabel = get32(5)
		total := 9 + 8*count
		if err := need(total); err != nil {
			return Instr{}, 0, err
		}
		ins.Table = make([]SwitchEntry, count)
		for i := 0; i < count; i++ {
			off := 9 + 8*i
			ins.Table[i] = SwitchEntry{Key: get32(off), Label: get32(off + 4)}
		}
		return ins, total, nil
	case OpGetLevel, OpCut:
		if err := need(2); err != nil {
			return Instr{}, 0, err
		}
		ins.LevelReg = buf[1]
		return ins, 2, nil
	default:
		return Instr{}, 0, errors.Wrapf(ErrUnknownOpcode, "opcode %#x", buf[0])
	}
}
