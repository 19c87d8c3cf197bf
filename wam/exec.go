package wam

import "github.com/pkg/errors"

// execState is one of the four states spec.md §4.4 names: "{RUN,
// BACKTRACK, HALT_SUCCESS, HALT_FAIL}".
type execState int

const (
	stateRun execState = iota
	stateBacktrack
	stateHaltSuccess
	stateHaltFail
)

// deref follows a chain of bound REF cells starting from c, stopping at
// either an unbound (self-pointing) REF or a non-REF cell (spec.md
// §4.4 "Dereference").
func (m *Machine) deref(c Cell) Cell {
	for c.Tag() == RefTag {
		next := m.Heap[c.Addr()]
		if next == c {
			return c
		}
		c = next
	}
	return c
}

// bindAddr writes value at addr and trails the write if addr predates
// the current choice point (spec.md §4.4 "Bind").
func (m *Machine) bindAddr(addr int, value Cell) {
	m.Heap[addr] = value
	if addr <= m.HB {
		m.Trail = append(m.Trail, addr)
	}
}

// bind binds whichever of d1, d2 is an unbound REF to the other,
// preferring to rebind the younger (higher) address to the older one
// (spec.md §4.4 invariant 2 ordering). At least one side must already
// be dereferenced-unbound; callers only reach here after deref.
func (m *Machine) bind(d1, d2 Cell) {
	u1, u2 := d1.Tag() == RefTag, d2.Tag() == RefTag
	switch {
	case u1 && u2:
		a1, a2 := d1.Addr(), d2.Addr()
		if a1 > a2 {
			m.bindAddr(a1, NewCell(RefTag, uint64(a2)))
		} else {
			m.bindAddr(a2, NewCell(RefTag, uint64(a1)))
		}
	case u1:
		m.bindAddr(d1.Addr(), d2)
	case u2:
		m.bindAddr(d2.Addr(), d1)
	}
}

// unify implements spec.md §4.4's PDL-driven unification algorithm.
func (m *Machine) unify(c1, c2 Cell) bool {
	pdl := append(m.pdl[:0], c1, c2)
	for len(pdl) > 0 {
		n := len(pdl)
		x, y := pdl[n-2], pdl[n-1]
		pdl = pdl[:n-2]
		dx, dy := m.deref(x), m.deref(y)
		if dx == dy {
			continue
		}
		if dx.Tag() == RefTag || dy.Tag() == RefTag {
			m.bind(dx, dy)
			continue
		}
		switch {
		case dx.Tag() == StrTag && dy.Tag() == StrTag:
			wx, wy := m.Heap[dx.Addr()], m.Heap[dy.Addr()]
			if wx != wy {
				m.pdl = pdl
				return false
			}
			_, arity := DecodeFunctorWord(wx)
			for i := 1; i <= int(arity); i++ {
				pdl = append(pdl, m.Heap[dx.Addr()+i], m.Heap[dy.Addr()+i])
			}
		case dx.Tag() == LisTag && dy.Tag() == LisTag:
			pdl = append(pdl, m.Heap[dx.Addr()], m.Heap[dy.Addr()], m.Heap[dx.Addr()+1], m.Heap[dy.Addr()+1])
		case dx.Tag() == ConTag && dy.Tag() == ConTag:
			if dx.Value() != dy.Value() {
				m.pdl = pdl
				return false
			}
		default:
			m.pdl = pdl
			return false
		}
	}
	m.pdl = pdl
	return true
}

// globalize would copy a stack-resident variable onto the heap before
// it escapes a deallocated frame (spec.md §4.3's "unsafe"/"local_val"
// treatment). This implementation always backs every variable,
// permanent or temporary, with a real heap cell from the moment it is
// created (set_var/put_var/unify_var push a fresh REF(H), and get_var
// only copies an argument register that already holds one), so a
// variable's value is never actually stack-resident the way a
// register-window WAM's Y slots can be — globalize is therefore the
// identity here. put_unsafe_val/set_local_val/unify_local_val are kept
// as distinct opcodes for bytecode-format fidelity with spec.md §6, but
// execute identically to their plain counterparts.
func (m *Machine) globalize(v Cell, _ Mode, _ uint8) Cell { return v }

func (m *Machine) getY(n uint8) Cell { return m.frames[m.E].slots[n-1] }
func (m *Machine) setY(n uint8, v Cell) { m.frames[m.E].slots[n-1] = v }

func (m *Machine) pushChoicePoint(nextClause int) {
	m.chpts = append(m.chpts, choicePoint{
		args:       m.X,
		nextClause: nextClause,
		prevB:      m.B,
		e:          m.E,
		cp:         m.CP,
		trTop:      len(m.Trail),
		hTop:       m.H,
	})
	m.B = len(m.chpts) - 1
	m.HB = m.H
}

func (m *Machine) popChoicePoint() {
	cp := m.chpts[m.B]
	m.chpts = m.chpts[:m.B]
	m.B = cp.prevB
	if m.B >= 0 {
		m.HB = m.chpts[m.B].hTop
	} else {
		m.HB = 0
	}
}

// backtrack implements spec.md §4.4's "Backtracking": restore A1..An,
// E, CP, H from the current choice point, unbind every trail entry
// above its saved TR, and resume at its saved BP (nextClause).
func (m *Machine) backtrack() bool {
	if m.B < 0 {
		return false
	}
	cp := m.chpts[m.B]
	m.X = cp.args
	m.E = cp.e
	m.CP = cp.cp
	m.B0 = cp.prevB
	for i := len(m.Trail) - 1; i >= cp.trTop; i-- {
		addr := m.Trail[i]
		m.Heap[addr] = NewCell(RefTag, uint64(addr))
	}
	m.Trail = m.Trail[:cp.trTop]
	m.Heap = m.Heap[:cp.hTop]
	m.H = cp.hTop
	m.HB = cp.hTop
	m.P = cp.nextClause
	m.Log.Trace("backtrack", "choice_point", m.B, "resume_at", m.P, "env", m.E)
	return true
}

func (m *Machine) setCutBarrierLevel(n uint8) {
	m.setY(n, NewCell(RefTag, uint64(m.B0+1)))
}

func (m *Machine) cutTo(n uint8) {
	b := int(m.getY(n).Value()) - 1
	m.cutToIndex(b)
}

func (m *Machine) cutToIndex(b int) {
	m.B = b
	if b >= 0 && b < len(m.chpts) {
		m.chpts = m.chpts[:b+1]
		m.HB = m.chpts[b].hTop
	} else {
		m.chpts = m.chpts[:0]
		m.HB = 0
	}
}

// step executes exactly one instruction at m.P and reports the
// resulting state. Every case that falls through to the bottom
// advances P by one slot; jumps (call/execute/proceed, the indexed
// try/retry/trust, switch_on_* and continue) set P explicitly instead.
func (m *Machine) step() (execState, error) {
	ins := m.Code[m.P]
	jumped := false

	switch ins.Op {
	case OpPutStruc:
		strAddr := m.H
		m.pushCell(NewCell(StrTag, uint64(m.H+1)))
		m.pushCell(FunctorWord(ins.Name, ins.Arity))
		m.setReg(ins.Mode, ins.Reg, m.Heap[strAddr])
	case OpSetVar:
		addr := m.H
		m.pushCell(NewCell(RefTag, uint64(addr)))
		m.setReg(ins.Mode, ins.Reg, m.Heap[addr])
	case OpSetVal:
		m.pushCell(m.getReg(ins.Mode, ins.Reg))
	case OpSetConst:
		m.pushCell(NewCell(ConTag, uint64(ins.Name)))
	case OpSetVoid:
		for i := 0; i < int(ins.N); i++ {
			addr := m.H
			m.pushCell(NewCell(RefTag, uint64(addr)))
		}
	case OpSetLocalVal:
		m.pushCell(m.globalize(m.getReg(ins.Mode, ins.Reg), ins.Mode, ins.Reg))

	case OpGetStruc:
		d := m.deref(m.getReg(ins.Mode, ins.Reg))
		switch d.Tag() {
		case RefTag:
			strAddr := m.H
			m.pushCell(NewCell(StrTag, uint64(m.H+1)))
			m.pushCell(FunctorWord(ins.Name, ins.Arity))
			m.bind(d, m.Heap[strAddr])
			m.WriteMode = true
		case StrTag:
			if m.Heap[d.Addr()] != FunctorWord(ins.Name, ins.Arity) {
				return stateBacktrack, nil
			}
			m.S = d.Addr() + 1
			m.WriteMode = false
		default:
			return stateBacktrack, nil
		}
	case OpUnifyVar:
		if m.WriteMode {
			addr := m.H
			m.pushCell(NewCell(RefTag, uint64(addr)))
			m.setReg(ins.Mode, ins.Reg, m.Heap[addr])
		} else {
			m.setReg(ins.Mode, ins.Reg, m.Heap[m.S])
			m.S++
		}
	case OpUnifyVal:
		if m.WriteMode {
			m.pushCell(m.getReg(ins.Mode, ins.Reg))
		} else {
			if !m.unify(m.getReg(ins.Mode, ins.Reg), m.Heap[m.S]) {
				return stateBacktrack, nil
			}
			m.S++
		}
	case OpUnifyLocalVal:
		if m.WriteMode {
			m.pushCell(m.globalize(m.getReg(ins.Mode, ins.Reg), ins.Mode, ins.Reg))
		} else {
			if !m.unify(m.getReg(ins.Mode, ins.Reg), m.Heap[m.S]) {
				return stateBacktrack, nil
			}
			m.S++
		}
	case OpUnifyConst:
		c := NewCell(ConTag, uint64(ins.Name))
		if m.WriteMode {
			m.pushCell(c)
		} else {
			if !m.unify(c, m.Heap[m.S]) {
				return stateBacktrack, nil
			}
			m.S++
		}
	case OpUnifyVoid:
		if m.WriteMode {
			for i := 0; i < int(ins.N); i++ {
				addr := m.H
				m.pushCell(NewCell(RefTag, uint64(addr)))
			}
		} else {
			m.S += int(ins.N)
		}

	case OpPutVar:
		addr := m.H
		m.pushCell(NewCell(RefTag, uint64(addr)))
		m.setReg(ins.Mode, ins.Reg, m.Heap[addr])
		m.X[ins.Reg2] = m.Heap[addr]
	case OpPutVal:
		m.X[ins.Reg2] = m.getReg(ins.Mode, ins.Reg)
	case OpPutUnsafeVal:
		m.X[ins.Reg2] = m.globalize(m.getReg(ins.Mode, ins.Reg), ins.Mode, ins.Reg)
	case OpPutConst:
		m.setReg(ins.Mode, ins.Reg, NewCell(ConTag, uint64(ins.Name)))
	case OpPutList:
		m.setReg(ins.Mode, ins.Reg, NewCell(LisTag, uint64(m.H)))

	case OpGetVar:
		m.setReg(ins.Mode, ins.Reg, m.X[ins.Reg2])
	case OpGetVal:
		if !m.unify(m.getReg(ins.Mode, ins.Reg), m.X[ins.Reg2]) {
			return stateBacktrack, nil
		}
	case OpGetConst:
		d := m.deref(m.getReg(ins.Mode, ins.Reg))
		switch d.Tag() {
		case RefTag:
			m.bind(d, NewCell(ConTag, uint64(ins.Name)))
		case ConTag:
			if d.Value() != uint64(ins.Name) {
				return stateBacktrack, nil
			}
		default:
			return stateBacktrack, nil
		}
	case OpGetList:
		d := m.deref(m.getReg(ins.Mode, ins.Reg))
		switch d.Tag() {
		case RefTag:
			listAddr := m.H
			m.bind(d, NewCell(LisTag, uint64(listAddr)))
			m.S = listAddr
			m.WriteMode = true
		case LisTag:
			m.S = d.Addr()
			m.WriteMode = false
		default:
			return stateBacktrack, nil
		}

	case OpCall, OpCallInternal:
		m.Log.Trace("call", "target", ins.Target, "arity", ins.Arity, "return_to", m.P+1)
		m.CP = m.P + 1
		m.B0 = m.B
		m.P = int(ins.Target)
		jumped = true
	case OpExecute:
		m.Log.Trace("execute", "target", ins.Target, "arity", ins.Arity)
		m.B0 = m.B
		m.P = int(ins.Target)
		jumped = true
	case OpProceed:
		m.P = m.CP
		jumped = true
	case OpAllocateN:
		idx := m.frameTop()
		for idx >= len(m.frames) {
			m.frames = append(m.frames, frame{})
		}
		m.frames[idx] = frame{prevE: m.E, cp: m.CP, slots: make([]Cell, ins.N)}
		m.E = idx
	case OpAllocate:
		idx := m.frameTop()
		for idx >= len(m.frames) {
			m.frames = append(m.frames, frame{})
		}
		m.frames[idx] = frame{prevE: m.E, cp: m.CP}
		m.E = idx
	case OpDeallocate:
		f := m.frames[m.E]
		m.CP = f.cp
		m.E = f.prevE

	case OpTryMeElse:
		// Label = address of the next clause-selector instruction
		// (retry_me_else/trust_me); the clause body follows inline.
		m.pushChoicePoint(int(ins.Label))
	case OpRetryMeElse:
		m.chpts[m.B].nextClause = int(ins.Label)
	case OpTrustMe:
		m.popChoicePoint()

	case OpTry:
		// Label = the clause body's address; retry on backtrack resumes
		// at the next instruction in this indexed sub-chain.
		m.pushChoicePoint(m.P + 1)
		m.P = int(ins.Label)
		jumped = true
	case OpRetry:
		m.chpts[m.B].nextClause = m.P + 1
		m.P = int(ins.Label)
		jumped = true
	case OpTrust:
		m.popChoicePoint()
		m.P = int(ins.Label)
		jumped = true

	case OpSwitchOnTerm:
		d := m.deref(m.X[1])
		var label uint32
		switch d.Tag() {
		case RefTag:
			label = ins.Labels[0]
		case ConTag:
			label = ins.Labels[1]
		case LisTag:
			label = ins.Labels[2]
		case StrTag:
			label = ins.Labels[3]
		}
		if label == noIndexTarget {
			return stateBacktrack, nil
		}
		m.P = int(label)
		jumped = true
	case OpSwitchOnConst:
		d := m.deref(m.X[1])
		if d.Tag() != ConTag {
			return stateBacktrack, nil
		}
		label := ins.DefaultLabel
		for _, e := range ins.Table {
			if e.Key == uint32(d.Value()) {
				label = e.Label
				break
			}
		}
		if label == noIndexTarget {
			return stateBacktrack, nil
		}
		m.P = int(label)
		jumped = true
	case OpSwitchOnStruc:
		d := m.deref(m.X[1])
		if d.Tag() != StrTag {
			return stateBacktrack, nil
		}
		word := m.Heap[d.Addr()]
		label := ins.DefaultLabel
		for _, e := range ins.Table {
			if e.Key == word.FunctorID() {
				label = e.Label
				break
			}
		}
		if label == noIndexTarget {
			return stateBacktrack, nil
		}
		m.P = int(label)
		jumped = true

	case OpNeckCut:
		m.cutToIndex(m.B0)
	case OpGetLevel:
		m.setCutBarrierLevel(ins.LevelReg)
	case OpCut:
		m.cutTo(ins.LevelReg)

	case OpContinue:
		m.P = int(ins.Label)
		jumped = true
	case OpNoOp:
		// nothing
	case OpSuspend:
		return stateHaltSuccess, nil

	default:
		return stateHaltFail, errors.Wrapf(ErrUnknownOpcode, "opcode %#x at %d", uint8(ins.Op), m.P)
	}

	if !jumped {
		m.P++
	}
	return stateRun, nil
}

// runLoop drives the {RUN,BACKTRACK,HALT_SUCCESS,HALT_FAIL} state
// machine (spec.md §4.4) until it reaches a halting state.
func (m *Machine) runLoop() (execState, error) {
	return m.drive(stateRun)
}

// resumeLoop re-enters the state machine at stateBacktrack: the
// solution iterator's way of asking "is there another solution",
// unwinding the most recent choice point before resuming at its saved
// retry address (spec.md §4.4 "Backtracking").
func (m *Machine) resumeLoop() (execState, error) {
	return m.drive(stateBacktrack)
}

func (m *Machine) drive(state execState) (execState, error) {
	for {
		switch state {
		case stateRun:
			if m.P < 0 || m.P >= len(m.Code) {
				return stateHaltFail, errors.Errorf("program counter %d out of range", m.P)
			}
			ns, err := m.step()
			if err != nil {
				return stateHaltFail, err
			}
			state = ns
		case stateBacktrack:
			if !m.backtrack() {
				return stateHaltFail, nil
			}
			state = stateRun
		default:
			return state, nil
		}
	}
}
